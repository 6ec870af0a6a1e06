// Package credential reads and mints the identity provider's ID-token
// credentials. The client only needs the claims (uid, email, email_verified,
// sign-in provider); signature checks belong to the backend, so [Parse] never
// verifies. [Manager] signs and verifies HS256 tokens for in-process providers
// and test backends.
package credential
