package zsock

import (
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// Authenticator is the single, process-wide CURVE authenticator thread
// (spec.md §4.3/§5: "a single authenticator thread per process is shared
// across all server sockets"). It is created lazily and memoized.
type Authenticator struct {
	mu      sync.Mutex
	domain  string
	allowed map[string]struct{}
}

var (
	authOnce    sync.Once
	authHandle  *Authenticator
	authInitErr error
)

func sharedAuthenticator(clientKeysDir string) (*Authenticator, error) {
	authOnce.Do(func() {
		zmq.AuthSetVerbose(false)
		if err := zmq.AuthStart(); err != nil {
			authInitErr = &ErrTransport{Err: err}
			return
		}
		authHandle = &Authenticator{domain: "*", allowed: map[string]struct{}{}}
		zmq.AuthCurveAdd(authHandle.domain, clientKeysDir)
	})
	if authInitErr != nil {
		return nil, authInitErr
	}
	return authHandle, nil
}

// Allow additively permits connections from the given addresses, per spec.md
// §4.3's "allow(*addrs) list is additive".
func (a *Authenticator) Allow(addrs ...string) {
	if a == nil || len(addrs) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var fresh []string
	for _, addr := range addrs {
		if _, ok := a.allowed[addr]; !ok {
			a.allowed[addr] = struct{}{}
			fresh = append(fresh, addr)
		}
	}
	if len(fresh) > 0 {
		zmq.AuthAllow(a.domain, fresh...)
	}
}

// Stop tears down the process-wide authenticator thread.
func (a *Authenticator) Stop() {
	zmq.AuthStop()
}

func applyServerCurve(s *Socket, c *CurveOptions) error {
	if c.ServerSecretKey == "" {
		return ErrAuth
	}
	serverPublic, serverSecret, err := decodeCurveKey(c.ServerSecretKey)
	if err != nil {
		return err
	}
	if err := s.zsoc.SetCurveServer(1); err != nil {
		return &ErrTransport{Err: err}
	}
	if err := s.zsoc.SetCurvePublickey(serverPublic); err != nil {
		return &ErrTransport{Err: err}
	}
	if err := s.zsoc.SetCurveSecretkey(serverSecret); err != nil {
		return &ErrTransport{Err: err}
	}
	return nil
}

func applyClientCurve(s *Socket, c *CurveOptions) error {
	if c.ClientSecretKey == "" || c.ServerPublicKey == "" {
		return ErrAuth
	}
	clientPublic, clientSecret, err := decodeCurveKey(c.ClientSecretKey)
	if err != nil {
		return err
	}
	if err := s.zsoc.SetCurveServerkey(c.ServerPublicKey); err != nil {
		return &ErrTransport{Err: err}
	}
	if err := s.zsoc.SetCurvePublickey(clientPublic); err != nil {
		return &ErrTransport{Err: err}
	}
	if err := s.zsoc.SetCurveSecretkey(clientSecret); err != nil {
		return &ErrTransport{Err: err}
	}
	return nil
}

// decodeCurveKey accepts a bare 40-character Z85 secret key and derives its
// public half; any other input (including a "public:secret" pair) is
// rejected with ErrAuth.
func decodeCurveKey(secret string) (public, secretOut string, err error) {
	if len(secret) != 40 {
		return "", "", ErrAuth
	}
	public, err = zmq.AuthCurvePublic(secret)
	if err != nil {
		return "", "", &ErrTransport{Err: err}
	}
	return public, secret, nil
}
