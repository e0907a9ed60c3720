package ctxkey

const (
	ProxyKey = "proxy_key"
	Route    = "relay_route"
)
