/*
Package apisdk is a client for the vulntab application backend.

The backend is the source of truth for authorization. The console uses three
of its endpoints during sign-in:

  - GET /users/me: the "who am I" call. It doubles as a token validity check
    and as the authoritative account-existence check.
  - POST /users: creates the backend account for a fresh identity.
  - PUT /users/me: updates the account.

Every call carries the identity token as "Authorization: Bearer <token>".

Use SDKClient directly when you hold a token and want a single call, e.g.
when validating a token recovered from a cookie:

	client := apisdk.NewSDKClient("http://localhost:8000")
	me, err := client.GetMe(ctx, token)

Use a Session when the token comes from a TokenSource that may block until
the identity session is ready:

	sess := client.NewSession(tokens)
	me, err := sess.GetMe(ctx)

Backend rejections come back as *APIError. IsEmailNotVerified and
IsNoSuchUser classify the two rejections the sign-in flow recovers from.
*/
package apisdk
