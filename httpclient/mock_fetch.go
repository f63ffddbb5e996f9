package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// MockFetch is a configurable FetchFunc for tests.
//
// Replies are chosen in this order: queued replies (one per fetch, in
// order), then stubs (first match wins), then the default reply.
//
// Example:
//
//	mock := httpclient.NewMockFetch().
//	    EnqueueJSON(503, `{}`).
//	    StubJSON(200, `{"ok":true}`)
//
//	client := httpclient.New("http://api.test",
//	    httpclient.WithFetch(mock.Fetch),
//	    httpclient.WithRetryOn(503),
//	    httpclient.WithRetryDelay(0),
//	)
type MockFetch struct {
	mu           sync.Mutex
	queue        []mockReply
	stubs        []mockStub
	defaultReply *mockReply
	calls        []FetchCall
	hook         func(ctx context.Context, call FetchCall)
}

// FetchCall records one fetch made through a MockFetch.
type FetchCall struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Form   *Form
}

// FetchMatcher selects the fetches a stub applies to.
type FetchMatcher func(url string, opts *WireOptions) bool

type mockReply struct {
	status int
	body   string
	header http.Header
	err    error
}

type mockStub struct {
	matcher FetchMatcher
	reply   mockReply
}

// NewMockFetch creates a MockFetch with no replies configured.
func NewMockFetch() *MockFetch {
	return &MockFetch{}
}

func textReply(status int, body string) mockReply {
	return mockReply{status: status, body: body, header: make(http.Header)}
}

func jsonReply(status int, body string) mockReply {
	r := textReply(status, body)
	r.header.Set(headerContentType, contentTypeJSON)
	return r
}

// StubResponse makes every otherwise unmatched fetch return a response
// without content type, so its body decodes as text.
func (m *MockFetch) StubResponse(status int, body string) *MockFetch {
	return m.setDefault(textReply(status, body))
}

// StubJSON makes every otherwise unmatched fetch return a JSON response.
func (m *MockFetch) StubJSON(status int, body string) *MockFetch {
	return m.setDefault(jsonReply(status, body))
}

// StubError makes every otherwise unmatched fetch fail with err.
func (m *MockFetch) StubError(err error) *MockFetch {
	return m.setDefault(mockReply{err: err})
}

func (m *MockFetch) setDefault(r mockReply) *MockFetch {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultReply = &r
	return m
}

// StubPath stubs fetches whose URL path equals path.
func (m *MockFetch) StubPath(path string, status int, body string) *MockFetch {
	return m.StubFunc(func(rawURL string, _ *WireOptions) bool {
		return urlPath(rawURL) == path
	}, status, body)
}

// StubPathRegex stubs fetches whose URL path matches pattern.
func (m *MockFetch) StubPathRegex(pattern string, status int, body string) *MockFetch {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(rawURL string, _ *WireOptions) bool {
		return re.MatchString(urlPath(rawURL))
	}, status, body)
}

// StubMethod stubs fetches with the given method.
func (m *MockFetch) StubMethod(method string, status int, body string) *MockFetch {
	return m.StubFunc(func(_ string, opts *WireOptions) bool {
		return strings.EqualFold(opts.Method, method)
	}, status, body)
}

// StubFunc stubs fetches selected by matcher with a JSON response.
func (m *MockFetch) StubFunc(matcher FetchMatcher, status int, body string) *MockFetch {
	return m.addStub(matcher, jsonReply(status, body))
}

// StubFuncError stubs fetches selected by matcher to fail with err.
func (m *MockFetch) StubFuncError(matcher FetchMatcher, err error) *MockFetch {
	return m.addStub(matcher, mockReply{err: err})
}

func (m *MockFetch) addStub(matcher FetchMatcher, r mockReply) *MockFetch {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, mockStub{matcher: matcher, reply: r})
	return m
}

// Enqueue queues a one-shot text response.
func (m *MockFetch) Enqueue(status int, body string) *MockFetch {
	return m.enqueue(textReply(status, body))
}

// EnqueueJSON queues a one-shot JSON response.
func (m *MockFetch) EnqueueJSON(status int, body string) *MockFetch {
	return m.enqueue(jsonReply(status, body))
}

// EnqueueError queues a one-shot fetch error.
func (m *MockFetch) EnqueueError(err error) *MockFetch {
	return m.enqueue(mockReply{err: err})
}

func (m *MockFetch) enqueue(r mockReply) *MockFetch {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, r)
	return m
}

// OnFetch sets a hook called for each fetch before it replies. The hook
// may block, which holds the fetch in flight.
func (m *MockFetch) OnFetch(fn func(ctx context.Context, call FetchCall)) *MockFetch {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

// Fetch implements FetchFunc.
func (m *MockFetch) Fetch(ctx context.Context, rawURL string, opts *WireOptions) (*http.Response, error) {
	if opts == nil {
		opts = &WireOptions{}
	}
	fc := FetchCall{
		Method: opts.Method,
		URL:    rawURL,
		Header: opts.Header.Clone(),
		Body:   append([]byte(nil), opts.Body...),
		Form:   opts.Form,
	}

	m.mu.Lock()
	m.calls = append(m.calls, fc)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, fc)
	}

	r, ok := m.reply(rawURL, opts)
	if !ok {
		return nil, errors.New("httpclient: no stub found for fetch: " + opts.Method + " " + rawURL)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		Status:        http.StatusText(r.status),
		StatusCode:    r.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header.Clone(),
		Body:          io.NopCloser(strings.NewReader(r.body)),
		ContentLength: int64(len(r.body)),
	}, nil
}

func (m *MockFetch) reply(rawURL string, opts *WireOptions) (mockReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		return r, true
	}
	for _, s := range m.stubs {
		if s.matcher(rawURL, opts) {
			return s.reply, true
		}
	}
	if m.defaultReply != nil {
		return *m.defaultReply, true
	}
	return mockReply{}, false
}

// Calls returns every fetch made so far.
func (m *MockFetch) Calls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FetchCall(nil), m.calls...)
}

// CallCount returns the number of fetches made.
func (m *MockFetch) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent fetch, or nil if none.
func (m *MockFetch) LastCall() *FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset clears recorded calls, queued replies and stubs.
func (m *MockFetch) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.stubs = nil
	m.defaultReply = nil
	m.calls = nil
	m.hook = nil
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
