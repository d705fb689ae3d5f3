/*
Package backend implements the Kumii REST API

The backend serves the chat, forum, moderation, notification, user and dashboard modules
of the Kumii collaboration platform on top of a Postgres database. Data access goes
through the Store interface, which is implemented by package store.

# Usage

	api := backend.New(&backend.Builder{
		Config:    backend.Configuration{Environment: "production", CORSOrigins: origins},
		Store:     st,
		Router:    mux.NewRouter(),
		Verifier:  verifier,
		Queue:     queue,
		JobHealth: queue,
		Publisher: publisher,
		KSS:       &kss.Configuration{DriverType: kss.DriverTypeLocal, LocalConfiguration: local},
	})
	http.ListenAndServe(":3001", api.Handler())

Router() gives access to the plain router, Handler() wraps it with the full middleware chain.
Tests use the router directly with access.Authorization set on the request context.

# Middleware

Handler() applies, from the outside in: proxy headers, request ids (X-Request-ID), panic
recovery, security headers, CORS, compression, a body size limit of 10MB, a per-client rate
limit on /api/ (health is exempt, development allows 1000 requests per window) and request
logging. Everything below /api is authenticated with a bearer token. The token is checked
by the configured access.TokenVerifier and the caller's profile is loaded from the store.
A missing header answers 401 "Missing or invalid authorization header", a rejected token
401 "Invalid or expired token".

# Responses

Every response uses the envelope of package envelope:

	{"success": true, "data": {...}}
	{"success": true, "data": [...], "pagination": {"total": 42, "limit": 20, "offset": 0}}
	{"success": false, "error": "Validation failed", "details": [{"field": "title", "message": "Required"}]}

Request bodies are validated against the JSON schemas embedded from schemas/, query
parameters and path parameters are validated before a handler runs. Validation errors
answer 400 with details.

# Routes

	GET    /health
	GET    /metrics
	GET    /api/health
	GET    /api/health/jobs                          admin
	DELETE /api/health/jobs                          admin
	GET    /api/version
	GET    /api/authorization
	GET    /api/admin/statistics                     admin

	GET    /api/chat/conversations
	POST   /api/chat/conversations
	GET    /api/chat/conversations/{id}/messages
	POST   /api/chat/conversations/{id}/messages
	POST   /api/chat/conversations/{id}/typing
	PATCH  /api/chat/messages/{id}
	DELETE /api/chat/messages/{id}
	POST   /api/chat/messages/{id}/read
	POST   /api/chat/messages/{id}/reactions
	POST   /api/chat/messages/{id}/attachments

	GET    /api/forum/categories
	POST   /api/forum/categories
	GET    /api/forum/categories/{id}/boards
	POST   /api/forum/boards
	GET    /api/forum/boards/{id}/threads
	GET    /api/forum/threads
	POST   /api/forum/threads
	GET    /api/forum/threads/{id}
	PATCH  /api/forum/threads/{id}                   moderator
	GET    /api/forum/threads/{id}/posts
	POST   /api/forum/threads/{id}/posts
	POST   /api/forum/threads/{id}/vote
	POST   /api/forum/threads/{id}/bookmark
	POST   /api/forum/posts
	PUT    /api/forum/posts/{id}
	DELETE /api/forum/posts/{id}
	POST   /api/forum/posts/{id}/vote
	POST   /api/forum/posts/{id}/mark-solution
	GET    /api/forum/bookmarks

	POST   /api/moderation/reports
	GET    /api/moderation/queue                     moderator
	POST   /api/moderation/actions                   moderator

	GET    /api/notifications
	GET    /api/notifications/unread-count
	POST   /api/notifications/mark-all-read
	PATCH  /api/notifications/{id}/read
	PATCH  /api/notifications/{id}
	DELETE /api/notifications/{id}

	GET    /api/users/search
	GET    /api/users/me
	GET    /api/users/{id}

	GET    /api/dashboard/stats
	GET    /api/dashboard/activity

# Side effects

Content is sanitized before it is stored. Mentions (@name) in messages, threads and posts,
replies and moderation actions are handed to the job queue as jobs, the queue turns them
into notifications and emails. Created messages, posts and moderation actions are also
published as events. Failures of side effects are logged and never fail the request.
*/
package backend
