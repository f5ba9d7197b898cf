package network

import "github.com/anggasct/logicdriver/pkg/config"

// Settings configure replication. They are read from the environment by
// LoadSettings; DefaultSettings returns the same values without doing so.
type Settings struct {
	StateChangeAuthority Authority `env:"LD_STATE_CHANGE_AUTHORITY" envDefault:"client"`
	StateExecution       Authority `env:"LD_STATE_EXECUTION" envDefault:"client_and_server"`
	TransitionEntered    Authority `env:"LD_TRANSITION_ENTERED" envDefault:"client_and_server"`
	TickAuthority        Authority `env:"LD_TICK_AUTHORITY" envDefault:"client"`

	// IncludeSimulatedProxies lets proxies execute logic and tick, and
	// multicasts every transaction to them.
	IncludeSimulatedProxies bool `env:"LD_INCLUDE_SIMULATED_PROXIES" envDefault:"false"`
	AlwaysMulticast         bool `env:"LD_ALWAYS_MULTICAST" envDefault:"false"`
	// WaitForOwningClient holds the server queue until the owning client
	// has connected.
	WaitForOwningClient bool `env:"LD_WAIT_FOR_OWNING_CLIENT" envDefault:"true"`
	// WaitForTransactionsFromServer makes an authoritative client evaluate
	// transitions but apply them only when the server replays them.
	WaitForTransactionsFromServer bool `env:"LD_WAIT_FOR_SERVER_TRANSACTIONS" envDefault:"false"`
	// CalculateServerTimeForClients estimates the time in state from the
	// wall clock when the server does not tick.
	CalculateServerTimeForClients bool `env:"LD_CALCULATE_SERVER_TIME" envDefault:"true"`

	// Update frequencies in Hz. Zero processes the queues on every tick.
	ServerUpdateFrequency float64 `env:"LD_SERVER_UPDATE_FREQUENCY" envDefault:"0"`
	ClientUpdateFrequency float64 `env:"LD_CLIENT_UPDATE_FREQUENCY" envDefault:"0"`
}

func DefaultSettings() Settings {
	return Settings{
		StateChangeAuthority:          AuthorityClient,
		StateExecution:                AuthorityClientAndServer,
		TransitionEntered:             AuthorityClientAndServer,
		TickAuthority:                 AuthorityClient,
		WaitForOwningClient:           true,
		CalculateServerTimeForClients: true,
	}
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()
	if err := config.Parse(&s); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}
