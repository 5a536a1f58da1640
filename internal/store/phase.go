package store

// Phase is the session lifecycle state. Exactly one flow owns the session at
// a time, so "restoring while registering" cannot be expressed.
type Phase string

const (
	// PhaseInitial is a fresh load before restore has run.
	PhaseInitial Phase = "initial"
	// PhaseRestoring means restore-on-load owns the session.
	PhaseRestoring Phase = "restoring"
	// PhaseRegistering means a registration owns the session.
	PhaseRegistering Phase = "registering"
	// PhaseSigningIn means a password sign-in owns the session.
	PhaseSigningIn Phase = "signing_in"
	// PhaseActivating means activation polling owns the session.
	PhaseActivating Phase = "activating"
	// PhaseAuthenticated means a user has been adopted.
	PhaseAuthenticated Phase = "authenticated"
	// PhaseAnonymous means no user after a restore, activation or failed flow.
	PhaseAnonymous Phase = "anonymous"
	// PhaseSignedOut follows an explicit logout. Restore may run again.
	PhaseSignedOut Phase = "signed_out"
)

// AuthLoading reports whether the UI should still show the auth spinner.
func (p Phase) AuthLoading() bool {
	switch p {
	case PhaseInitial, PhaseRestoring, PhaseActivating:
		return true
	}
	return false
}

// canRestore reports whether restore-on-load may start from p.
func (p Phase) canRestore() bool {
	return p == PhaseInitial || p == PhaseSignedOut
}

// canRegister reports whether a registration may start from p.
func (p Phase) canRegister() bool {
	switch p {
	case PhaseInitial, PhaseRestoring, PhaseAnonymous, PhaseSignedOut:
		return true
	}
	return false
}

// canSignIn reports whether a password sign-in may start from p. A restore
// in flight is overtaken; it settles as a no-op.
func (p Phase) canSignIn() bool {
	switch p {
	case PhaseRegistering, PhaseSigningIn, PhaseActivating:
		return false
	}
	return true
}

// canActivate reports whether activation polling may start from p.
func (p Phase) canActivate() bool {
	return p != PhaseRegistering && p != PhaseSigningIn
}

// settled returns the phase to fall back to when a flow that started from p
// gives up. A restore that was overtaken has already finished as a no-op,
// so it must not be resumed.
func (p Phase) settled() Phase {
	if p == PhaseInitial || p == PhaseSignedOut {
		return p
	}
	return PhaseAnonymous
}
