package moodle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat2course/internal/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/", Token: "tok", CategoryID: 3, Timeout: time.Second}, nil, metrics.NewMetrics())
	require.NoError(t, err)
	return c
}

func TestNew_RequiresURLAndToken(t *testing.T) {
	_, err := New(Config{URL: "http://moodle"}, nil, nil)
	assert.Error(t, err)
}

func TestCreateCourse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, restPath, r.URL.Path)
		assert.Equal(t, "tok", r.Form.Get("wstoken"))
		assert.Equal(t, "core_course_create_courses", r.Form.Get("wsfunction"))
		assert.Equal(t, "json", r.Form.Get("moodlewsrestformat"))
		assert.Equal(t, "Python Basics", r.Form.Get("courses[0][fullname]"))
		assert.Equal(t, "3", r.Form.Get("courses[0][categoryid]"))
		fmt.Fprint(w, `[{"id": 17, "shortname": "PB-1"}]`)
	})

	id, err := c.CreateCourse(context.Background(), "Python Basics", "from chat")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
}

func TestCreateSection_CreatesThenNames(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fn := r.Form.Get("wsfunction")
		calls = append(calls, fn)
		switch fn {
		case "local_wsmanagesections_create_sections":
			fmt.Fprint(w, `[{"sectionid": 55, "sectionnumber": 1}]`)
		case "local_wsmanagesections_update_sections":
			assert.Equal(t, "55", r.Form.Get("sections[0][section]"))
			assert.Equal(t, "Loops", r.Form.Get("sections[0][name]"))
			fmt.Fprint(w, `null`)
		}
	})

	id, err := c.CreateSection(context.Background(), 17, "Loops", "")
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	assert.Equal(t, []string{"local_wsmanagesections_create_sections", "local_wsmanagesections_update_sections"}, calls)
}

func TestGetCourseContents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"General","section":0,"modules":[]},{"id":2,"name":"Loops","section":1,"modules":[{"id":9,"name":"For loop","modname":"page"}]}]`)
	})

	sections, err := c.GetCourseContents(context.Background(), 17)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "page", sections[1].Modules[0].ModName)
}

func TestExceptionIsClassified(t *testing.T) {
	cases := []struct {
		body string
		kind Kind
	}{
		{`{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`, KindAuth},
		{`{"exception":"dml_missing_record_exception","errorcode":"invalidrecord","message":"Can't find data record"}`, KindNotFound},
		{`{"exception":"moodle_exception","errorcode":"generalexceptionmessage","message":"Content exceeds maximum size"}`, KindContentTooLarge},
		{`{"exception":"coding_exception","errorcode":"codingerror","message":"Something odd"}`, KindGeneric},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, tc.body)
		})
		_, err := c.CreateCourse(context.Background(), "X", "")
		var me *Error
		require.True(t, errors.As(err, &me), "expected *Error for %s", tc.body)
		assert.Equal(t, tc.kind, me.Kind, tc.body)
		assert.Equal(t, tc.kind, KindOf(err))
	}
}

func TestHTTPStatusIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too big", http.StatusRequestEntityTooLarge)
	})
	_, err := c.CreatePageActivity(context.Background(), 1, 2, "Page", "<p>x</p>")
	assert.Equal(t, KindContentTooLarge, KindOf(err))
}

func TestTimeoutIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `[]`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetCourseContents(ctx, 1)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify(0, "", "", context.DeadlineExceeded))
	assert.Equal(t, KindAuth, Classify(http.StatusForbidden, "", "", nil))
	assert.Equal(t, KindContentTooLarge, Classify(200, "", "max_allowed_packet exceeded", nil))
	assert.Equal(t, KindGeneric, KindOf(errors.New("boom")))
	assert.False(t, KindAuth.Retryable())
	assert.True(t, KindTimeout.Retryable())
}
