package forward

import (
	socks5 "github.com/armon/go-socks5"
)

// socks5User is the fixed username presented for UserPass auth; only the
// password is client-configurable (§6, --password / PG_PASSWORD).
const socks5User = "portguard"

// NewSocks5Server builds the server-side SOCKS5 handler used for dynamic
// mode egress. An empty password selects NoAuth; a non-empty password
// requires UserPass authentication (§4.6).
func NewSocks5Server(password string) (*socks5.Server, error) {
	conf := &socks5.Config{}
	if password != "" {
		creds := socks5.StaticCredentials{socks5User: password}
		conf.AuthMethods = []socks5.Authenticator{
			socks5.UserPassAuthenticator{Credentials: creds},
		}
	}
	return socks5.New(conf)
}

// ServeSocks5 hands conn to server, which negotiates SOCKS5 directly on
// the authenticated stream and dials the requested destination itself.
func ServeSocks5(server *socks5.Server, conn deadlineStream) error {
	return server.ServeConn(AsNetConn(conn))
}
