package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/content"
	"github.com/relabs-tech/kumii/core/envelope"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/store"
)

func (b *Backend) handleForum(router *mux.Router) {
	logger.Default().Debugln("forum")
	logger.Default().Debugln("  handle forum routes: /api/forum/categories GET, POST")
	router.HandleFunc("/categories", b.listCategories).Methods(http.MethodGet)
	router.HandleFunc("/categories", b.createCategory).Methods(http.MethodPost)
	router.HandleFunc("/categories/{id}/boards", b.listBoards).Methods(http.MethodGet)
	logger.Default().Debugln("  handle forum routes: /api/forum/boards POST")
	router.HandleFunc("/boards", b.createBoard).Methods(http.MethodPost)
	router.HandleFunc("/boards/{id}/threads", b.listBoardThreads).Methods(http.MethodGet)
	logger.Default().Debugln("  handle forum routes: /api/forum/threads GET, POST")
	router.HandleFunc("/threads", b.searchThreads).Methods(http.MethodGet)
	router.HandleFunc("/threads", b.createThread).Methods(http.MethodPost)
	router.HandleFunc("/threads/{id}", b.getThread).Methods(http.MethodGet)
	router.Handle("/threads/{id}", access.RequireModerator()(http.HandlerFunc(b.updateThread))).Methods(http.MethodPatch)
	router.HandleFunc("/threads/{id}/posts", b.listPosts).Methods(http.MethodGet)
	router.HandleFunc("/threads/{id}/posts", b.replyToThread).Methods(http.MethodPost)
	router.HandleFunc("/threads/{id}/vote", b.voteThread).Methods(http.MethodPost)
	router.HandleFunc("/threads/{id}/bookmark", b.toggleBookmark).Methods(http.MethodPost)
	logger.Default().Debugln("  handle forum routes: /api/forum/posts POST")
	router.HandleFunc("/posts", b.createPost).Methods(http.MethodPost)
	router.HandleFunc("/posts/{id}", b.updatePost).Methods(http.MethodPut)
	router.HandleFunc("/posts/{id}", b.deletePost).Methods(http.MethodDelete)
	router.HandleFunc("/posts/{id}/vote", b.votePost).Methods(http.MethodPost)
	router.HandleFunc("/posts/{id}/mark-solution", b.markSolution).Methods(http.MethodPost)
	router.HandleFunc("/bookmarks", b.listBookmarks).Methods(http.MethodGet)
}

// canAccessBoard returns true if the board has no required role or the caller ranks
// at least as high
func canAccessBoard(auth *access.Authorization, board *store.Board) bool {
	return board.RequiredRole == nil || auth.Role.AtLeast(*board.RequiredRole)
}

func (b *Backend) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := b.store.ListCategories(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4601: cannot list categories")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch categories")
		return
	}
	envelope.OK(w, http.StatusOK, categories)
}

func (b *Backend) createCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Icon        *string `json:"icon"`
	}
	if !b.decodeBody(w, r, "category-create", &body) {
		return
	}
	category, err := b.store.CreateCategory(r.Context(), body.Name, body.Description, body.Icon)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4602: cannot create category")
		envelope.Error(w, http.StatusInternalServerError, "Failed to create category")
		return
	}
	envelope.OK(w, http.StatusCreated, category)
}

func (b *Backend) listBoards(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	boards, err := b.store.ListBoards(r.Context(), categoryID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4603: cannot list boards")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch boards")
		return
	}
	envelope.OK(w, http.StatusOK, boards)
}

func (b *Backend) createBoard(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	var body struct {
		Name        string    `json:"name"`
		Description string    `json:"description"`
		CategoryID  uuid.UUID `json:"category_id"`
	}
	if !b.decodeBody(w, r, "board-create", &body) {
		return
	}
	_, err := b.store.GetCategory(r.Context(), body.CategoryID)
	if err == nil {
		var board *store.Board
		board, err = b.store.CreateBoard(r.Context(), body.CategoryID, body.Name, body.Description)
		if err == nil {
			envelope.OK(w, http.StatusCreated, board)
			return
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Category not found")
		return
	}
	rlog.WithError(err).Errorln("Error 4604: cannot create board")
	envelope.Error(w, http.StatusInternalServerError, "Failed to create board")
}

// board loads a board the caller may access. It writes the failure response and
// returns nil otherwise.
func (b *Backend) board(w http.ResponseWriter, r *http.Request, id uuid.UUID) *store.Board {
	board, err := b.store.GetBoard(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Board not found")
		return nil
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4605: cannot load board")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return nil
	}
	if !canAccessBoard(caller(r), board) {
		logger.FromContext(r.Context()).Warnln("board access denied:", board.ID)
		envelope.Error(w, http.StatusForbidden, "Access denied")
		return nil
	}
	return board
}

func (b *Backend) listBoardThreads(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var q pageQuery
	if !decodeQuery(w, r, &q) {
		return
	}
	if b.board(w, r, boardID) == nil {
		return
	}
	threads, total, err := b.store.ListBoardThreads(r.Context(), boardID, q.Limit, q.Offset)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4606: cannot list threads")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch threads")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{
		"threads": threads,
		"total":   total,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func (b *Backend) searchThreads(w http.ResponseWriter, r *http.Request) {
	var q struct {
		Sort    string `query:"sort,default:recent" validate:"oneof=recent trending"`
		Limit   int    `query:"limit,default:20" validate:"min=1,max=100"`
		Offset  int    `query:"offset,default:0" validate:"min=0"`
		BoardID string `query:"boardId" validate:"omitempty,uuid"`
		Search  string `query:"search" validate:"max=200"`
	}
	if !decodeQuery(w, r, &q) {
		return
	}
	tq := store.ThreadQuery{Sort: store.ThreadSort(q.Sort), Limit: q.Limit, Offset: q.Offset, Search: q.Search}
	if q.BoardID != "" {
		id := uuid.MustParse(q.BoardID)
		tq.BoardID = &id
	}
	threads, total, err := b.store.SearchThreads(r.Context(), tq)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4607: cannot search threads")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch threads")
		return
	}
	envelope.Paginated(w, threads, envelope.Pagination{Total: total, Limit: q.Limit, Offset: q.Offset})
}

func (b *Backend) getThread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	thread, err := b.store.ViewThread(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4608: cannot load thread")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	envelope.OK(w, http.StatusOK, thread)
}

func (b *Backend) createThread(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BoardID uuid.UUID `json:"boardId"`
		Title   string    `json:"title"`
		Content string    `json:"content"`
	}
	if !b.decodeBody(w, r, "thread-create", &body) {
		return
	}
	if b.board(w, r, body.BoardID) == nil {
		return
	}
	sanitized := content.Sanitize(body.Content)
	thread, err := b.store.CreateThread(r.Context(), body.BoardID, caller(r).UserID, body.Title, sanitized)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Board not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4609: cannot create thread")
		envelope.Error(w, http.StatusInternalServerError, "Failed to create thread")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"thread": thread})

	link := "/forum/threads/" + thread.ID.String()
	b.publish(r.Context(), events.TypePostCreated, thread.ID.String(), thread)
	b.enqueueMentions(r.Context(), thread.ID.String(), body.Content, sanitized, link, "forum")
}

func (b *Backend) updateThread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		IsPinned *bool `json:"is_pinned"`
		IsLocked *bool `json:"is_locked"`
	}
	if !b.decodeBody(w, r, "thread-update", &body) {
		return
	}
	thread, err := b.store.UpdateThreadFlags(r.Context(), id, body.IsPinned, body.IsLocked)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4610: cannot update thread")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update thread")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"thread": thread})
}

func (b *Backend) listPosts(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	posts, err := b.store.ListPosts(r.Context(), threadID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4611: cannot list posts")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch posts")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

type postBody struct {
	ThreadID     uuid.UUID  `json:"threadId"`
	Content      string     `json:"content"`
	ParentPostID *uuid.UUID `json:"parentPostId"`
}

func (b *Backend) createPost(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if !b.decodeBody(w, r, "post-create", &body) {
		return
	}
	b.post(w, r, body)
}

func (b *Backend) replyToThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body postBody
	if !b.decodeBody(w, r, "thread-reply", &body) {
		return
	}
	body.ThreadID = threadID
	b.post(w, r, body)
}

// post creates a reply in an unlocked thread and notifies the author of the thread, or
// of the parent post if there is one
func (b *Backend) post(w http.ResponseWriter, r *http.Request, body postBody) {
	rlog := logger.FromContext(r.Context())
	auth := caller(r)

	thread, err := b.store.GetThread(r.Context(), body.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4612: cannot load thread")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if thread.IsLocked {
		envelope.Error(w, http.StatusForbidden, "Thread is locked")
		return
	}

	recipient, original := thread.AuthorID, thread.Content
	if body.ParentPostID != nil {
		parent, err := b.store.GetPost(r.Context(), *body.ParentPostID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && (parent.ThreadID != thread.ID || parent.Deleted)) {
			envelope.Error(w, http.StatusNotFound, "Parent post not found")
			return
		}
		if err != nil {
			rlog.WithError(err).Errorln("Error 4613: cannot load parent post")
			envelope.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		recipient, original = parent.AuthorID, parent.Content
	}

	sanitized := content.Sanitize(body.Content)
	post, err := b.store.CreatePost(r.Context(), thread.ID, auth.UserID, sanitized, body.ParentPostID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4614: cannot create post")
		envelope.Error(w, http.StatusInternalServerError, "Failed to create post")
		return
	}
	envelope.OK(w, http.StatusCreated, map[string]interface{}{"post": post})

	link := "/forum/threads/" + thread.ID.String()
	b.publish(r.Context(), events.TypePostCreated, thread.ID.String(), post)
	b.enqueue(r.Context(), jobs.Job{Type: jobs.TypeReply, Key: post.ID.String()}.WithPayload(jobs.ReplyPayload{
		ActorID:     auth.UserID,
		ActorName:   post.Author.Name(auth.Email),
		RecipientID: recipient,
		Original:    original,
		Reply:       sanitized,
		Link:        link,
	}))
	b.enqueueMentions(r.Context(), post.ID.String(), body.Content, sanitized, link, "forum")
}

// voteValue accepts "1", "-1", 1 and -1
func voteValue(v interface{}) int {
	switch v := v.(type) {
	case string:
		if v == "-1" {
			return -1
		}
	case float64:
		if v < 0 {
			return -1
		}
	}
	return 1
}

func (b *Backend) voteThread(w http.ResponseWriter, r *http.Request) {
	b.vote(w, r, "Thread not found", b.store.VoteThread)
}

func (b *Backend) votePost(w http.ResponseWriter, r *http.Request) {
	b.vote(w, r, "Post not found", b.store.VotePost)
}

func (b *Backend) vote(w http.ResponseWriter, r *http.Request, notFound string, record func(ctx context.Context, id, userID uuid.UUID, value int) error) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		VoteValue interface{} `json:"voteValue"`
	}
	if !b.decodeBody(w, r, "vote", &body) {
		return
	}
	err := record(r.Context(), id, caller(r).UserID, voteValue(body.VoteValue))
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, notFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4615: cannot vote")
		envelope.Error(w, http.StatusInternalServerError, "Failed to vote")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Vote recorded"})
}

func (b *Backend) markSolution(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := b.store.GetPost(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && post.Deleted) {
		envelope.Error(w, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4616: cannot load post")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	thread, err := b.store.GetThread(r.Context(), post.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4617: cannot load thread")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if thread.AuthorID != caller(r).UserID {
		envelope.Error(w, http.StatusForbidden, "Only the thread author can mark solutions")
		return
	}
	marked, err := b.store.ToggleSolution(r.Context(), post.ID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Post not found")
		return
	}
	if err != nil {
		rlog.WithError(err).Errorln("Error 4618: cannot toggle solution")
		envelope.Error(w, http.StatusInternalServerError, "Failed to mark solution")
		return
	}
	message := "Solution marked"
	if !marked {
		message = "Solution removed"
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"marked": marked, "message": message})
}

// ownPost loads a post of the caller for modification. It writes the failure response
// and returns nil otherwise.
func (b *Backend) ownPost(w http.ResponseWriter, r *http.Request, id uuid.UUID, deletedStatus int, deletedMessage, forbidden string) *store.Post {
	post, err := b.store.GetPost(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Post not found")
		return nil
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4619: cannot load post")
		envelope.Error(w, http.StatusInternalServerError, "Internal server error")
		return nil
	}
	if post.Deleted {
		envelope.Error(w, deletedStatus, deletedMessage)
		return nil
	}
	if post.AuthorID != caller(r).UserID {
		envelope.Error(w, http.StatusForbidden, forbidden)
		return nil
	}
	return post
}

func (b *Backend) updatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if !b.decodeBody(w, r, "post-update", &body) {
		return
	}
	if b.ownPost(w, r, id, http.StatusNotFound, "Post has been deleted", "You can only edit your own posts") == nil {
		return
	}
	post, err := b.store.UpdatePost(r.Context(), id, content.Sanitize(body.Content))
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4620: cannot update post")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update post")
		return
	}
	envelope.OK(w, http.StatusOK, post)
}

func (b *Backend) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if b.ownPost(w, r, id, http.StatusBadRequest, "Post is already deleted", "You can only delete your own posts") == nil {
		return
	}
	if err := b.store.SoftDeletePost(r.Context(), id); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4621: cannot delete post")
		envelope.Error(w, http.StatusInternalServerError, "Failed to delete post")
		return
	}
	envelope.OK(w, http.StatusOK, map[string]string{"message": "Post deleted successfully"})
}

func (b *Backend) toggleBookmark(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bookmarked, err := b.store.ToggleBookmark(r.Context(), threadID, caller(r).UserID)
	if errors.Is(err, store.ErrNotFound) {
		envelope.Error(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4622: cannot toggle bookmark")
		envelope.Error(w, http.StatusInternalServerError, "Failed to update bookmark")
		return
	}
	message := "Thread bookmarked"
	if !bookmarked {
		message = "Bookmark removed"
	}
	envelope.OK(w, http.StatusOK, map[string]interface{}{"bookmarked": bookmarked, "message": message})
}

func (b *Backend) listBookmarks(w http.ResponseWriter, r *http.Request) {
	bookmarks, err := b.store.ListBookmarks(r.Context(), caller(r).UserID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4623: cannot list bookmarks")
		envelope.Error(w, http.StatusInternalServerError, "Failed to fetch bookmarks")
		return
	}
	envelope.OK(w, http.StatusOK, bookmarks)
}
