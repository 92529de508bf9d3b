// Package moodle is a thin client for the Moodle REST web service API.
package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/metrics"
)

const restPath = "/webservice/rest/server.php"

// Functions names the wsfunctions the client calls. Sites with different plugins
// can point these elsewhere.
type Functions struct {
	CreateCourses  string `yaml:"create_courses"`
	CreateSections string `yaml:"create_sections"`
	UpdateSections string `yaml:"update_sections"`
	CreatePage     string `yaml:"create_page"`
	GetContents    string `yaml:"get_contents"`
}

// DefaultFunctions returns the core and local_wsmanagesections function names.
func DefaultFunctions() Functions {
	return Functions{
		CreateCourses:  "core_course_create_courses",
		CreateSections: "local_wsmanagesections_create_sections",
		UpdateSections: "local_wsmanagesections_update_sections",
		CreatePage:     "local_wsmanagesections_create_page",
		GetContents:    "core_course_get_contents",
	}
}

// Config holds connection settings.
type Config struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	CategoryID int64         `yaml:"category_id"`
	Timeout    time.Duration `yaml:"timeout"`
	Functions  Functions     `yaml:"functions"`
}

// Client calls Moodle web service functions.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// Module is one activity inside a course section.
type Module struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ModName string `json:"modname"`
}

// Section is one course section as returned by core_course_get_contents.
type Section struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Number  int      `json:"section"`
	Modules []Module `json:"modules"`
}

// New creates a client. The URL and token are required.
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("moodle url and token are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CategoryID <= 0 {
		cfg.CategoryID = 1
	}
	cfg.Functions = withDefaultFunctions(cfg.Functions)
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.URL, "/") + restPath,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "moodle"),
		metrics:    m,
	}, nil
}

func withDefaultFunctions(f Functions) Functions {
	d := DefaultFunctions()
	if f.CreateCourses == "" {
		f.CreateCourses = d.CreateCourses
	}
	if f.CreateSections == "" {
		f.CreateSections = d.CreateSections
	}
	if f.UpdateSections == "" {
		f.UpdateSections = d.UpdateSections
	}
	if f.CreatePage == "" {
		f.CreatePage = d.CreatePage
	}
	if f.GetContents == "" {
		f.GetContents = d.GetContents
	}
	return f
}

// CreateCourse creates a course in the configured category and returns its id.
func (c *Client) CreateCourse(ctx context.Context, name, summary string) (int64, error) {
	params := url.Values{}
	params.Set("courses[0][fullname]", name)
	params.Set("courses[0][shortname]", shortName(name))
	params.Set("courses[0][categoryid]", strconv.FormatInt(c.cfg.CategoryID, 10))
	params.Set("courses[0][summary]", summary)
	params.Set("courses[0][summaryformat]", "1")
	params.Set("courses[0][format]", "topics")
	params.Set("courses[0][numsections]", "0")

	var out []struct {
		ID        int64  `json:"id"`
		ShortName string `json:"shortname"`
	}
	if err := c.call(ctx, c.cfg.Functions.CreateCourses, params, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, c.malformed(c.cfg.Functions.CreateCourses, "no course returned")
	}
	return out[0].ID, nil
}

// CreateSection appends a section to the course, names it and returns its id.
func (c *Client) CreateSection(ctx context.Context, courseID int64, name, summary string) (int64, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))
	params.Set("position", "0")
	params.Set("number", "1")

	var created []struct {
		SectionID     int64 `json:"sectionid"`
		SectionNumber int   `json:"sectionnumber"`
	}
	if err := c.call(ctx, c.cfg.Functions.CreateSections, params, &created); err != nil {
		return 0, err
	}
	if len(created) == 0 {
		return 0, c.malformed(c.cfg.Functions.CreateSections, "no section returned")
	}
	id := created[0].SectionID

	params = url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))
	params.Set("sections[0][type]", "id")
	params.Set("sections[0][section]", strconv.FormatInt(id, 10))
	params.Set("sections[0][name]", name)
	params.Set("sections[0][summary]", summary)
	params.Set("sections[0][summaryformat]", "1")
	if err := c.call(ctx, c.cfg.Functions.UpdateSections, params, nil); err != nil {
		return 0, err
	}
	return id, nil
}

// CreatePageActivity adds a page module with HTML content to a section.
func (c *Client) CreatePageActivity(ctx context.Context, courseID, sectionID int64, name, html string) (int64, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))
	params.Set("sectionid", strconv.FormatInt(sectionID, 10))
	params.Set("name", name)
	params.Set("content", html)
	params.Set("contentformat", "1")

	var out struct {
		ID       int64 `json:"id"`
		CMID     int64 `json:"cmid"`
		Warnings []struct {
			Message string `json:"message"`
		} `json:"warnings"`
	}
	if err := c.call(ctx, c.cfg.Functions.CreatePage, params, &out); err != nil {
		return 0, err
	}
	for _, w := range out.Warnings {
		c.log.Warn("page created with warning", "name", name, "warning", w.Message)
	}
	if out.CMID != 0 {
		return out.CMID, nil
	}
	return out.ID, nil
}

// GetCourseContents returns the sections and modules of a course.
func (c *Client) GetCourseContents(ctx context.Context, courseID int64) ([]Section, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	var out []Section
	if err := c.call(ctx, c.cfg.Functions.GetContents, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// exception is the body Moodle returns for a failed call, usually with HTTP 200.
type exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	DebugInfo string `json:"debuginfo"`
}

func (c *Client) call(ctx context.Context, fn string, params url.Values, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordMoodleCall(fn, string(KindOf(err)), time.Since(start))
		}
	}()

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.cfg.Token)
	form.Set("wsfunction", fn)
	form.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Kind: KindGeneric, Op: fn, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.log.Debug("moodle call", "fn", fn, "bytes", req.ContentLength)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: Classify(0, "", err.Error(), err), Op: fn, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: Classify(resp.StatusCode, "", err.Error(), err), Op: fn, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return &Error{Kind: Classify(resp.StatusCode, "", msg, nil), Op: fn, Status: resp.StatusCode, Message: msg}
	}

	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var ex exception
		if json.Unmarshal(trimmed, &ex) == nil && ex.Exception != "" {
			msg := ex.Message
			if ex.DebugInfo != "" {
				msg += " (" + ex.DebugInfo + ")"
			}
			c.log.Warn("moodle exception", "fn", fn, "code", ex.ErrorCode, "message", ex.Message)
			return &Error{Kind: Classify(resp.StatusCode, ex.ErrorCode, msg, nil), Op: fn, Status: resp.StatusCode, Code: ex.ErrorCode, Message: msg}
		}
	}

	if out == nil || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return c.malformed(fn, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func (c *Client) malformed(fn, msg string) error {
	return &Error{Kind: KindGeneric, Op: fn, Message: msg}
}

// shortName derives a Moodle course shortname, which must be unique per site.
func shortName(name string) string {
	fields := strings.Fields(name)
	var b strings.Builder
	for _, f := range fields {
		r := []rune(f)
		b.WriteRune(r[0])
		if b.Len() >= 10 {
			break
		}
	}
	return strings.ToUpper(b.String()) + "-" + strconv.FormatInt(time.Now().UnixNano()%1_000_000, 36)
}
