// Package client talks to the verifier daemon's HTTP API and drives chunked
// uploads.
package client

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

	"github.com/flyq/jolt-verifier-canister/daemon/api/server"
	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/daemon/service"
	"github.com/flyq/jolt-verifier-canister/internal/chunker"
)

// APIError is a non-2xx response decoded from the daemon's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is an HTTP client for one daemon.
type Client struct {
	baseURL string
	http    *http.Client
	caller  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCaller sets the identity sent in the caller header.
func WithCaller(caller string) Option {
	return func(c *Client) { c.caller = caller }
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.caller != "" {
		req.Header.Set(server.CallerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb server.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = eb.Code, eb.Message, eb.Details
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	switch v := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *[]byte:
		*v, err = io.ReadAll(resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

// PutChunk uploads one fragment.
func (c *Client) PutChunk(ctx context.Context, index uint32, payload []byte) error {
	return c.do(ctx, http.MethodPut, "/api/v1/chunks/"+strconv.FormatUint(uint64(index), 10),
		bytes.NewReader(payload), "application/octet-stream", nil)
}

// GetChunk downloads a buffered fragment.
func (c *Client) GetChunk(ctx context.Context, index uint32) ([]byte, error) {
	var payload []byte
	err := c.do(ctx, http.MethodGet, "/api/v1/chunks/"+strconv.FormatUint(uint64(index), 10), nil, "", &payload)
	return payload, err
}

// ClearPending drops every buffered fragment on the daemon.
func (c *Client) ClearPending(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/chunks", nil, "", nil)
}

// PendingStatus describes the daemon's pending buffer.
func (c *Client) PendingStatus(ctx context.Context) (*service.PendingStatus, error) {
	var st service.PendingStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/chunks", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func programPath(program uint32, rest string) string {
	return "/api/v1/programs/" + strconv.FormatUint(uint64(program), 10) + rest
}

func endQuery(end uint32) string {
	return "?" + url.Values{"end": {strconv.FormatUint(uint64(end), 10)}}.Encode()
}

// FinalizeSetup assembles fragments 0..=end as the setup of program.
func (c *Client) FinalizeSetup(ctx context.Context, program, end uint32) (*manager.ObjectInfo, error) {
	var info manager.ObjectInfo
	if err := c.doJSON(ctx, http.MethodPost, programPath(program, "/setup")+endQuery(end), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FinalizeProof assembles fragments 0..=end as a new proof of program.
func (c *Client) FinalizeProof(ctx context.Context, program, end uint32) (uint32, error) {
	var resp server.ProofIDResponse
	if err := c.doJSON(ctx, http.MethodPost, programPath(program, "/proofs")+endQuery(end), nil, &resp); err != nil {
		return 0, err
	}
	return resp.ProofID, nil
}

// Verify asks the daemon to verify a stored proof.
func (c *Client) Verify(ctx context.Context, program, proofID uint32) (bool, error) {
	var resp server.VerifyResponse
	path := programPath(program, "/proofs/"+strconv.FormatUint(uint64(proofID), 10)+"/verify")
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// SetupInfo returns the metadata of program's setup.
func (c *Client) SetupInfo(ctx context.Context, program uint32) (*manager.ObjectInfo, error) {
	var info manager.ObjectInfo
	if err := c.doJSON(ctx, http.MethodGet, programPath(program, "/setup"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ProofInfo returns the metadata of a stored proof.
func (c *Client) ProofInfo(ctx context.Context, program, proofID uint32) (*manager.ObjectInfo, error) {
	var info manager.ObjectInfo
	path := programPath(program, "/proofs/"+strconv.FormatUint(uint64(proofID), 10))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Programs lists every program with stored objects.
func (c *Client) Programs(ctx context.Context) ([]service.ProgramSummary, error) {
	var resp server.ListProgramsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/programs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Programs, nil
}

// History returns the most recent finalize records.
func (c *Client) History(ctx context.Context, limit int) ([]manager.FinalizeRecord, error) {
	var resp server.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/history?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Owner returns the daemon's owner identity.
func (c *Client) Owner(ctx context.Context) (string, error) {
	var resp server.OwnerResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/owner", nil, &resp); err != nil {
		return "", err
	}
	return resp.Owner, nil
}

// SetOwner replaces the owner identity. The client's caller must be the
// current owner.
func (c *Client) SetOwner(ctx context.Context, owner string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/v1/owner", server.SetOwnerRequest{Owner: owner}, nil)
}

// UploadResult summarises a completed upload.
type UploadResult struct {
	Program uint32
	ProofID *uint32
	Chunks  int
	Size    int64
	Digest  string
}

// sendChunks clears the pending buffer and streams r in fragments of
// chunkSize bytes. It returns the last index sent.
func (c *Client) sendChunks(ctx context.Context, r io.Reader, chunkSize int, res *UploadResult) (uint32, error) {
	if err := c.ClearPending(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear pending chunks: %w", err)
	}
	ch, err := chunker.NewChunker(r, chunkSize)
	if err != nil {
		return 0, err
	}

	var index uint32
	for {
		part, err := ch.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		if err := c.PutChunk(ctx, index, part); err != nil {
			return 0, fmt.Errorf("failed to upload chunk %d: %w", index, err)
		}
		res.Chunks++
		res.Size += int64(len(part))
		index++
	}
	return index - 1, nil
}

// UploadSetup uploads r as the setup of program.
func (c *Client) UploadSetup(ctx context.Context, program uint32, r io.Reader, chunkSize int) (*UploadResult, error) {
	res := &UploadResult{Program: program}
	end, err := c.sendChunks(ctx, r, chunkSize, res)
	if err != nil {
		return nil, err
	}
	info, err := c.FinalizeSetup(ctx, program, end)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize setup: %w", err)
	}
	res.Digest = info.Digest
	return res, nil
}

// UploadProof uploads r as a new proof of program.
func (c *Client) UploadProof(ctx context.Context, program uint32, r io.Reader, chunkSize int) (*UploadResult, error) {
	res := &UploadResult{Program: program}
	end, err := c.sendChunks(ctx, r, chunkSize, res)
	if err != nil {
		return nil, err
	}
	id, err := c.FinalizeProof(ctx, program, end)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize proof: %w", err)
	}
	res.ProofID = &id
	info, err := c.ProofInfo(ctx, program, id)
	if err != nil {
		return nil, err
	}
	res.Digest = info.Digest
	return res, nil
}
