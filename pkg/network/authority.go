package network

import (
	"fmt"
	"strings"
)

// Role is the network role of a component.
type Role uint8

const (
	RoleNone Role = iota
	// RoleSimulatedProxy is a client that only mirrors the server.
	RoleSimulatedProxy
	// RoleOwningClient is the client that owns the replicated machine.
	RoleOwningClient
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleSimulatedProxy:
		return "simulated_proxy"
	case RoleOwningClient:
		return "owning_client"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	for _, candidate := range []Role{RoleNone, RoleSimulatedProxy, RoleOwningClient, RoleServer} {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", text)
}

// Authority selects which side may act in one domain: changing states,
// running state logic, running transition entered logic or ticking.
type Authority uint8

const (
	AuthorityClientAndServer Authority = iota
	AuthorityServer
	AuthorityClient
)

func (a Authority) String() string {
	switch a {
	case AuthorityServer:
		return "server"
	case AuthorityClient:
		return "client"
	case AuthorityClientAndServer:
		return "client_and_server"
	default:
		return fmt.Sprintf("authority(%d)", uint8(a))
	}
}

// UnmarshalText accepts server, client and client_and_server, in any case.
func (a *Authority) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "server":
		*a = AuthorityServer
	case "client":
		*a = AuthorityClient
	case "client_and_server", "clientandserver", "both":
		*a = AuthorityClientAndServer
	default:
		return fmt.Errorf("unknown authority %q", text)
	}
	return nil
}

func (a Authority) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// IsConfiguredForNetworking reports whether the component replicates.
// Without a transport every predicate grants authority.
func (c *Component) IsConfiguredForNetworking() bool {
	return c.transport != nil
}

// HasAuthority reports whether this side is the server.
func (c *Component) HasAuthority() bool {
	return !c.IsConfiguredForNetworking() || c.listenServer || c.role == RoleServer
}

func (c *Component) IsSimulatedProxy() bool {
	return !c.locallyOwned && c.role == RoleSimulatedProxy
}

func (c *Component) IsOwningClient() bool {
	return !c.HasAuthority() && c.role == RoleOwningClient
}

func (c *Component) IsListenServer() bool { return c.listenServer }

func (c *Component) IsLocallyOwned() bool { return c.locallyOwned }

// RemoteRole is the role of the other end: the server for a client, and
// the owning client or proxies for the server.
func (c *Component) RemoteRole() Role {
	switch {
	case !c.IsConfiguredForNetworking():
		return RoleNone
	case c.HasAuthority() && c.ownedByClient:
		return RoleOwningClient
	case c.HasAuthority():
		return RoleSimulatedProxy
	default:
		return RoleServer
	}
}

func (c *Component) isRemoteRoleOwningClient() bool {
	return c.HasAuthority() && c.RemoteRole() == RoleOwningClient
}

// HasAuthorityToChangeStates reports whether this side may take
// transitions and switch states.
func (c *Component) HasAuthorityToChangeStates() bool {
	if !c.IsConfiguredForNetworking() {
		return true
	}
	if c.IsSimulatedProxy() {
		return false
	}

	switch c.settings.StateChangeAuthority {
	case AuthorityServer:
		return c.HasAuthority() || c.listenServer
	case AuthorityClient:
		return c.IsOwningClient() || c.locallyOwned
	default:
		// A listen server is both proxy and authority; let the owner drive.
		return !(c.listenServer && !c.locallyOwned)
	}
}

// HasAuthorityToChangeStatesLocally reports whether a state change may be
// applied here before the server confirms it.
func (c *Component) HasAuthorityToChangeStatesLocally() bool {
	return !c.IsConfiguredForNetworking() || c.isClientAndCanLocallyChangeStates() || c.isServerAndCanLocallyChangeStates()
}

// HasAuthorityToExecuteLogic reports whether state logic runs here.
func (c *Component) HasAuthorityToExecuteLogic() bool {
	return c.hasAuthorityForDomain(c.settings.StateExecution)
}

// CanExecuteTransitionEnteredLogic reports whether transition entered
// callbacks run here.
func (c *Component) CanExecuteTransitionEnteredLogic() bool {
	return c.hasAuthorityForDomain(c.settings.TransitionEntered)
}

// HasAuthorityToTick reports whether the instance is updated here.
func (c *Component) HasAuthorityToTick() bool {
	return c.hasAuthorityForDomain(c.settings.TickAuthority)
}

func (c *Component) hasAuthorityForDomain(a Authority) bool {
	if !c.IsConfiguredForNetworking() {
		return true
	}
	if c.IsSimulatedProxy() && !c.settings.IncludeSimulatedProxies {
		return false
	}

	switch a {
	case AuthorityServer:
		return c.HasAuthority() || c.listenServer
	case AuthorityClient:
		return c.locallyOwned || (c.settings.IncludeSimulatedProxies && (!c.HasAuthority() || c.listenServer))
	default:
		return true
	}
}

func (c *Component) isClientAndCanLocallyChangeStates() bool {
	return c.IsOwningClient() && c.HasAuthorityToChangeStates() && !c.settings.WaitForTransactionsFromServer
}

func (c *Component) isServerAndCanLocallyChangeStates() bool {
	return c.HasAuthority() && c.role != RoleSimulatedProxy && c.HasAuthorityToChangeStates()
}

// isClientAndShouldSkipMulticastStateChange is true for an owning client
// that already applied its own changes.
func (c *Component) isClientAndShouldSkipMulticastStateChange() bool {
	return c.IsConfiguredForNetworking() && c.IsOwningClient() && c.HasAuthorityToChangeStates() &&
		c.locallyOwned && !c.settings.WaitForTransactionsFromServer
}

func (c *Component) shouldClientQueueTransaction() bool {
	return !c.HasAuthority() && c.IsConfiguredForNetworking() &&
		(c.instance == nil || !c.initialized || c.waitingForServerSync || c.queueClientTransactions)
}

func (c *Component) shouldMulticast() bool {
	return c.settings.IncludeSimulatedProxies || c.remoteRoleJustChanged || c.settings.AlwaysMulticast
}
