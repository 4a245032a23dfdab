package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"betelconnect/internal/models"
	"betelconnect/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postBody struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	Image         string `json:"image"`
	Likes         int    `json:"likes"`
	TotalComments int    `json:"total_comments"`
	Liked         bool   `json:"liked"`
	TimeAgo       string `json:"time_ago"`
	User          struct {
		Name string `json:"name"`
	} `json:"user"`
}

type nodeBody struct {
	ID       uint   `json:"id"`
	ParentID uint   `json:"parent_id"`
	Text     string `json:"text"`
	Likes    int    `json:"likes"`
	CanEdit  bool   `json:"can_edit"`
}

func createPost(t *testing.T, ts *testServer, token string) postBody {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/posts", token, map[string]string{
		"title":       "Leaf spot on betel vines",
		"description": "Brown patches after the rains. What should I spray?",
		"image":       testutil.PNGDataURI(t, 16, 16),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[postBody](t, resp)
}

func TestPostHandlers_Lifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, farmerToken := ts.user(t, "farmer", models.RoleFarmer)
	_, officerToken := ts.user(t, "officer", models.RoleOfficer)

	post := createPost(t, ts, farmerToken)
	assert.NotZero(t, post.ID)
	assert.Equal(t, "farmer", post.User.Name)
	assert.Equal(t, "Just now", post.TimeAgo)
	require.True(t, strings.HasPrefix(post.Image, "/media/betel/posts/"), post.Image)

	// the stored rendition is served
	img := ts.do(t, http.MethodGet, post.Image, "", nil)
	assert.Equal(t, http.StatusOK, img.StatusCode)

	// only the author may edit
	path := fmt.Sprintf("/api/posts/%d", post.ID)
	resp := ts.do(t, http.MethodPut, path, officerToken, map[string]string{"title": "hijack", "description": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, path, farmerToken, map[string]string{
		"title": "Leaf spot (update)", "description": "Still spreading",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Leaf spot (update)", decode[postBody](t, resp).Title)

	resp = ts.do(t, http.MethodPost, path+"/like", officerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	like := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), like["likes"])
	assert.Equal(t, true, like["liked"])

	resp = ts.do(t, http.MethodGet, "/api/posts?sort=most-liked", officerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]postBody](t, resp)
	require.Len(t, list, 1)
	assert.True(t, list[0].Liked)
	assert.Equal(t, 1, list[0].Likes)

	resp = ts.do(t, http.MethodGet, "/api/posts?scope=own", officerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]postBody](t, resp))

	resp = ts.do(t, http.MethodDelete, path, officerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, path, farmerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, path, farmerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostHandlers_CreateValidation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "farmer", models.RoleFarmer)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing title", map[string]string{"description": "d", "image": testutil.PNGDataURI(t, 4, 4)}},
		{"missing image", map[string]string{"title": "t", "description": "d"}},
		{"not an image", map[string]string{"title": "t", "description": "d", "image": "data:text/plain;base64,aGVsbG8="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/posts", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestThreadHandlers_NestedFlow(t *testing.T) {
	ts := newTestServer(t)
	_, farmerToken := ts.user(t, "farmer", models.RoleFarmer)
	_, officerToken := ts.user(t, "officer", models.RoleOfficer)
	post := createPost(t, ts, farmerToken)
	base := fmt.Sprintf("/api/posts/%d", post.ID)

	resp := ts.do(t, http.MethodPost, base+"/comments", officerToken, map[string]string{"text": "Try copper oxychloride"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	comment := decode[nodeBody](t, resp)
	assert.True(t, comment.CanEdit)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("%s/nodes/%d/replies", base, comment.ID), farmerToken, map[string]string{"text": "How much per litre?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decode[nodeBody](t, resp)
	assert.Equal(t, comment.ID, reply.ParentID)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("%s/nodes/%d/replies", base, reply.ID), officerToken, map[string]string{"text": "3 grams"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	nested := decode[nodeBody](t, resp)

	resp = ts.do(t, http.MethodGet, base+"/comments", farmerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[struct {
		TotalComments int `json:"total_comments"`
		Comments      []struct {
			ID      uint `json:"id"`
			Replies []struct {
				ID      uint `json:"id"`
				Replies []struct {
					ID uint `json:"id"`
				} `json:"replies"`
			} `json:"replies"`
		} `json:"comments"`
	}](t, resp)
	assert.Equal(t, 3, view.TotalComments)
	require.Len(t, view.Comments, 1)
	require.Len(t, view.Comments[0].Replies, 1)
	require.Len(t, view.Comments[0].Replies[0].Replies, 1)
	assert.Equal(t, nested.ID, view.Comments[0].Replies[0].Replies[0].ID)

	// a non-author cannot edit or delete
	nestedPath := fmt.Sprintf("%s/nodes/%d", base, nested.ID)
	resp = ts.do(t, http.MethodPut, nestedPath, farmerToken, map[string]string{"text": "30 grams"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, nestedPath, farmerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, nestedPath, officerToken, map[string]string{"text": "3 grams per litre"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3 grams per litre", decode[nodeBody](t, resp).Text)

	resp = ts.do(t, http.MethodPost, nestedPath+"/like", farmerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]any](t, resp)["likes"])

	// deleting the comment removes the subtree
	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("%s/nodes/%d", base, comment.ID), officerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[map[string][]uint](t, resp)["deleted"]
	assert.ElementsMatch(t, []uint{comment.ID, reply.ID, nested.ID}, deleted)

	resp = ts.do(t, http.MethodPut, nestedPath, officerToken, map[string]string{"text": "gone"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// replying to a missing node
	resp = ts.do(t, http.MethodPost, base+"/nodes/9999/replies", farmerToken, map[string]string{"text": "hello?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/comments", farmerToken, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
