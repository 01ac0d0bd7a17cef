package xfer

// Authenticator resolves a login name to its stored password encoding
// and granted capabilities. It is the only identity lookup the core
// needs; user/role administration is out of scope.
type Authenticator interface {
	// Lookup returns the stored password form and capabilities for
	// user. ok is false for an unknown user.
	Lookup(user string) (storedPassword string, caps Capability, ok bool)
}

// MapAuthenticator is a minimal in-memory Authenticator used by tests
// and the test-xfer CLI hook.
type MapAuthenticator struct {
	users map[string]mapUser
}

type mapUser struct {
	password string
	caps     Capability
}

func NewMapAuthenticator() *MapAuthenticator {
	return &MapAuthenticator{users: make(map[string]mapUser)}
}

func (a *MapAuthenticator) AddUser(name, password string, caps Capability) {
	a.users[name] = mapUser{password: password, caps: caps}
}

func (a *MapAuthenticator) Lookup(user string) (string, Capability, bool) {
	u, ok := a.users[user]
	if !ok {
		return "", 0, false
	}
	return u.password, u.caps, true
}

func isAnonymousLogin(user string) bool {
	return user == "nobody" || user == "anonymous"
}

// verifyLogin implements §4.2's login signature check: the server
// recomputes sig' = sha1(nonce || sharedSecret(password)) and compares
// it to the offered signature in constant time, trying the stored
// password encoding first and a legacy SHA-1-derived shared secret if
// that fails. Anonymous logins always succeed.
func verifyLogin(auth Authenticator, user, nonceTok, sig string) (Capability, bool) {
	if isAnonymousLogin(user) {
		return anonymousCaps, true
	}
	stored, caps, ok := auth.Lookup(user)
	if !ok {
		return 0, false
	}
	if ConstantTimeEq(LoginSignature(nonceTok, stored), sig) {
		return caps, true
	}
	legacy := SharedSecretLegacy(stored)
	if ConstantTimeEq(LoginSignature(nonceTok, legacy), sig) {
		return caps, true
	}
	return 0, false
}
