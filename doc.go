/*
Package crosslogin is a shared login-handshake and identity broker.

An external application redirects a browser or device to a shared login
surface, the visitor authenticates through one of several interchangeable
methods (federated provider, emailed or texted one-time code, or
password), and the application receives back a durable user record plus
an authenticated session.

# The handshake

	GET /Account/Login?ReturnUrl=...        begin: creates a LoginRequest and
	                                        redirects into the login UI
	POST /Account/BeginLogin                the UI resolves providers for the
	                                        entered input
	POST /Account/SendCode                  one-time code issued and delivered
	POST /Account/VerifyCode                code validated, identity resolved,
	                                        request bound to the user
	GET /Account/LoginResult?requestId=...  back on the caller's origin: the
	                                        request is read and a session issued

The LoginRequest bridges the flow across the redirect boundary: it is
created on one origin and stays readable (not single-use) until its TTL
so the caller can re-poll or reload during the redirect chain.

# Identity model

A User owns an ordered list of LoginInputs (email, phone, other), each
optionally linked to one or more providers. A (format, input) pair is
unique across the whole store; at most one input per format is primary;
an input cannot become primary before it is validated.

# Stores

Persistence goes through the UserStore, RequestStore and CodeStore
interfaces. File-system adapters live in the stores package; Cloud
Datastore, GORM and Redis adapters live in stores/gae, stores/gorm and
stores/redis.
*/
package crosslogin
