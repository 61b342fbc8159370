// Package auth defines platform roles, the authenticated user model, the
// credential service used to hash passwords and issue bearer tokens, and the
// audit logger.
//
// Roles form a closed set (guest, student, teacher, org_admin,
// platform_admin). IsAdmin gates the admin dashboard:
//
//	if !auth.IsAdmin(user.Role) {
//		return dashboard.ErrForbidden
//	}
//
// Credentials is an interface so handlers and services can be tested with a
// fake; JWTCredentials is the production implementation (bcrypt + HS256):
//
//	creds := auth.NewJWTCredentials(secret, "ping-agaii", 24*time.Hour, 12)
//	token, expiresAt, err := creds.IssueToken(user)
//	claims, err := creds.VerifyToken(token)
package auth
