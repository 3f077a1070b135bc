package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prashikshan/internal/admin/admintest"
	"prashikshan/internal/database"
)

func TestProfileUpsertAndUsernameConflict(t *testing.T) {
	db := newTestDB(t)
	h := NewProfileHandler(db, nil)
	r := newTestEngine()
	r.GET("/api/profile", h.GetProfile)
	r.POST("/api/profile", h.UpsertProfile)

	rec := doRequest(t, r, http.MethodPost, "/api/profile", "", map[string]any{"username": "asha"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/profile", "u1", map[string]any{"full_name": "Asha"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/profile", "u1", map[string]any{
		"username":  "asha",
		"full_name": "<b>Asha</b> Rao",
		"skills":    []string{"go", "sql"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	assert.Equal(t, "Asha Rao", data["full_name"])
	assert.Equal(t, "student", data["role"])
	assert.Equal(t, "u1@example.com", data["email"])

	rec = doRequest(t, r, http.MethodPost, "/api/profile", "u1", map[string]any{"bio": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "asha", dataOf(t, rec)["username"])

	rec = doRequest(t, r, http.MethodPost, "/api/profile", "u2", map[string]any{"username": "asha"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/profile", "u2", map[string]any{"username": "ravi", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/profile?user_id=u1", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, hasEmail := dataOf(t, rec)["email"]
	assert.False(t, hasEmail, "email must be hidden from other users")
}

func TestToggleFollowAndExplore(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	seedProfile(t, db, "u2", "ravi", "student")
	h := NewProfileHandler(db, nil)
	r := newTestEngine()
	r.POST("/api/follow", h.ToggleFollow)
	r.GET("/api/explore", h.Explore)

	rec := doRequest(t, r, http.MethodPost, "/api/follow", "u1", map[string]any{"following_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/follow", "u1", map[string]any{"following_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/follow", "u1", map[string]any{"following_id": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, dataOf(t, rec)["following"])

	rec = doRequest(t, r, http.MethodGet, "/api/explore?q=RAV", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0].(map[string]any)["is_following"])

	rec = doRequest(t, r, http.MethodPost, "/api/follow", "u1", map[string]any{"following_id": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, dataOf(t, rec)["following"])

	var count int64
	require.NoError(t, db.Model(&database.Follow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFeedShowsFollowedAuthorsOnly(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	seedProfile(t, db, "u2", "ravi", "student")
	seedProfile(t, db, "u3", "meera", "student")
	require.NoError(t, db.Create(&database.Follow{FollowerID: "u1", FollowingID: "u2"}).Error)

	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	for i, p := range []struct{ user, content string }{
		{"u2", "ravi older"},
		{"u3", "meera stranger"},
		{"u1", "asha own"},
		{"u2", "ravi newest"},
	} {
		post := database.Post{Base: database.Base{CreatedAt: base.Add(time.Duration(i) * time.Minute)}, UserID: p.user, Content: p.content}
		require.NoError(t, db.Create(&post).Error)
	}

	h := NewPostHandler(db, nil)
	r := newTestEngine()
	r.GET("/api/feed", h.Feed)

	feedOf := func(userID, query string) []string {
		t.Helper()
		rec := doRequest(t, r, http.MethodGet, "/api/feed"+query, userID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, item := range decodeBody(t, rec)["data"].([]any) {
			post := item.(map[string]any)
			out = append(out, post["content"].(string))
		}
		return out
	}

	assert.Equal(t, []string{"ravi newest", "asha own", "ravi older"}, feedOf("u1", ""))
	assert.Equal(t, []string{"ravi newest"}, feedOf("u1", "?limit=1"))
	// 没有关注任何人时看到全部动态。
	assert.Equal(t, []string{"ravi newest", "asha own", "meera stranger", "ravi older"}, feedOf("u3", ""))

	rec := doRequest(t, r, http.MethodGet, "/api/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePostSanitizesAndValidates(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	h := NewPostHandler(db, nil)
	r := newTestEngine()
	r.POST("/api/posts", h.CreatePost)

	rec := doRequest(t, r, http.MethodPost, "/api/posts", "u1", map[string]any{
		"content": "<b>Hiring</b> drive at <i>campus</i><script>alert(1)</script>",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	assert.Equal(t, "Hiring drive at campus", data["content"])
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, "asha", data["author"].(map[string]any)["username"])

	var stored database.Post
	require.NoError(t, db.Where("id = ?", data["id"]).Take(&stored).Error)
	assert.Equal(t, "Hiring drive at campus", stored.Content)

	for name, body := range map[string]map[string]any{
		"empty":       {"content": "   "},
		"markup only": {"content": "<p></p>"},
		"too long":    {"content": strings.Repeat("a", maxPostLength+1)},
		"wrong type":  {"content": 42},
	} {
		rec := doRequest(t, r, http.MethodPost, "/api/posts", "u1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec = doRequest(t, r, http.MethodPost, "/api/posts", "u1", map[string]any{"image_url": " https://cdn.example.com/a.png "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://cdn.example.com/a.png", dataOf(t, rec)["image_url"])

	rec = doRequest(t, r, http.MethodPost, "/api/posts", "", map[string]any{"content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var count int64
	require.NoError(t, db.Model(&database.Post{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestToggleLikeKeepsCounterInSync(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	post := database.Post{UserID: "u1", Content: "first"}
	require.NoError(t, db.Create(&post).Error)

	h := NewPostHandler(db, nil)
	r := newTestEngine()
	r.POST("/api/posts/like", h.ToggleLike)
	r.GET("/api/feed", h.Feed)

	rec := doRequest(t, r, http.MethodPost, "/api/posts/like", "u2", map[string]any{"post_id": post.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataOf(t, rec)
	assert.Equal(t, true, data["liked"])
	assert.EqualValues(t, 1, data["likes"])

	rec = doRequest(t, r, http.MethodGet, "/api/feed", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decodeBody(t, rec)["data"].([]any)
	require.Len(t, feed, 1)
	assert.Equal(t, true, feed[0].(map[string]any)["liked"])

	rec = doRequest(t, r, http.MethodPost, "/api/posts/like", "u2", map[string]any{"post_id": post.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	data = dataOf(t, rec)
	assert.Equal(t, false, data["liked"])
	assert.EqualValues(t, 0, data["likes"])

	rec = doRequest(t, r, http.MethodPost, "/api/posts/like", "u2", map[string]any{"post_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCommentIncrementsCount(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	post := database.Post{UserID: "u1", Content: "first"}
	require.NoError(t, db.Create(&post).Error)

	h := NewPostHandler(db, nil)
	r := newTestEngine()
	r.POST("/api/comments", h.CreateComment)
	r.GET("/api/comments", h.ListComments)

	rec := doRequest(t, r, http.MethodPost, "/api/comments", "u1", map[string]any{"post_id": post.ID, "content": "<script>x</script>"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "content that sanitises to empty is rejected")

	for _, text := range []string{"nice", "great"} {
		rec = doRequest(t, r, http.MethodPost, "/api/comments", "u1", map[string]any{"post_id": post.ID, "content": text})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec = doRequest(t, r, http.MethodPost, "/api/comments", "u1", map[string]any{"post_id": "missing", "content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var stored database.Post
	require.NoError(t, db.Where("id = ?", post.ID).Take(&stored).Error)
	assert.Equal(t, 2, stored.CommentCount)

	rec = doRequest(t, r, http.MethodGet, "/api/comments?post_id="+post.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	comments := decodeBody(t, rec)["data"].([]any)
	require.Len(t, comments, 2)
	assert.Equal(t, "nice", comments[0].(map[string]any)["content"])
}

func TestMessagesAccessAndPush(t *testing.T) {
	db := newTestDB(t)
	seedProfile(t, db, "u1", "asha", "student")
	seedProfile(t, db, "u2", "ravi", "student")
	backend := admintest.NewBackend()

	h := NewMessageHandler(db, backend, nil)
	r := newTestEngine()
	r.GET("/api/messages", h.Conversation)
	r.POST("/api/messages", h.Send)

	rec := doRequest(t, r, http.MethodPost, "/api/messages", "u1", map[string]any{"receiver_id": "u2", "content": "hi <i>there</i>"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	published := backend.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "dm:u2", published[0].Channel)
	var event dmEvent
	require.NoError(t, json.Unmarshal([]byte(published[0].Payload), &event))
	assert.Equal(t, "message", event.Type)
	assert.Equal(t, "hi there", event.Message.Content)

	rec = doRequest(t, r, http.MethodPost, "/api/messages", "u1", map[string]any{"receiver_id": "u1", "content": "me"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, r, http.MethodPost, "/api/messages", "u1", map[string]any{"receiver_id": "ghost", "content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/messages?user1=u1&user2=u2", "u3", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/messages?user1=u1&user2=u2", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"].([]any), 1)

	var unread int64
	require.NoError(t, db.Model(&database.Message{}).Where("read_at IS NULL").Count(&unread).Error)
	assert.Zero(t, unread)
}
