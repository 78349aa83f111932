package detect

import (
	"context"
	"net/http"

	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// fakeRequest is a minimal reqview.Request implementation for tests.
type fakeRequest struct {
	method, path, query, ip, tls, trace string
	header                              http.Header
}

func newFakeRequest() *fakeRequest {
	return &fakeRequest{
		method: "GET",
		path:   "/",
		ip:     "203.0.113.5",
		header: http.Header{},
	}
}

func (r *fakeRequest) Method() string         { return r.method }
func (r *fakeRequest) Path() string           { return r.path }
func (r *fakeRequest) RawQuery() string       { return r.query }
func (r *fakeRequest) Header() http.Header    { return r.header }
func (r *fakeRequest) RemoteIP() string       { return r.ip }
func (r *fakeRequest) TLSFingerprint() string { return r.tls }
func (r *fakeRequest) TraceID() string        { return r.trace }

// fakeResolver implements reqview.Resolver with canned answers.
type fakeResolver struct {
	hosts map[string][]string
	addrs map[string][]string
	txts  map[string][]string
	err   error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		hosts: map[string][]string{},
		addrs: map[string][]string{},
		txts:  map[string][]string{},
	}
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hosts[host], nil
}

func (f *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[addr], nil
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.txts[name], nil
}

var _ reqview.Resolver = (*fakeResolver)(nil)
var _ reqview.Request = (*fakeRequest)(nil)
