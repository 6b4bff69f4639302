/*
Package security provides TLS for the dynadns HTTP and gRPC APIs.

When options.api_tls is set the daemon keeps a small certificate authority
under <data_dir>/tls:

	ca.crt       root certificate, pinned by clients (--ca)
	ca.key       root key, mode 0600
	server.crt   serving certificate for the API listen addresses
	server.key

The serving certificate is valid for 90 days. It is reissued at startup
when fewer than 30 days remain, when it does not cover the configured
listen hosts, or when it was not signed by the current root. Keys are
ECDSA P-256.

	cfg, err := security.ServerTLSConfig(filepath.Join(dataDir, "tls"), hosts)

Clients build their config from the pinned root:

	cfg, err := security.ClientTLSConfig("/var/lib/dynadns/tls/ca.crt")
*/
package security
