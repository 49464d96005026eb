// Package client is the worker agent's view of the scheduler facade.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sethgrid/pester"

	"github.com/kilnproject/kiln/api"
)

type Client struct {
	base string
	pool string
	http *pester.Client
}

// New creates a client for one pool of the scheduler at baseURL.
func New(baseURL, poolName string) *Client {
	c := pester.New()
	c.Concurrency = 1
	c.MaxRetries = 3
	c.Backoff = pester.ExponentialBackoff
	c.KeepLog = true
	return &Client{base: baseURL, pool: poolName, http: c}
}

func (c *Client) url(format string, args ...interface{}) string {
	return c.base + fmt.Sprintf(format, args...)
}

func (c *Client) do(method, url string, body, into interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorReply
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return resp.StatusCode, errors.Errorf("%s %s: %s", method, url, er.Error)
		}
		return resp.StatusCode, errors.Errorf("%s %s: http %d", method, url, resp.StatusCode)
	}
	if into != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, into); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decoding response")
		}
	}
	return resp.StatusCode, nil
}

// Register registers the worker, retrying transient failures so an agent
// starting before the scheduler still comes up.
func (c *Client) Register(name string) error {
	op := func() error {
		_, err := c.do("POST", c.url("/api/v1/pools/%s/workers", c.pool), api.RegisterRequest{Name: name}, nil)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	return backoff.Retry(op, b)
}

// Pop long-polls for the next instruction. Returns nil on poll timeout.
func (c *Client) Pop(name string, wait time.Duration) (*api.PopReply, error) {
	var reply api.PopReply
	status, err := c.do("POST",
		c.url("/api/v1/pools/%s/workers/%s/pop?wait=%d", c.pool, name, int(wait.Seconds())),
		nil, &reply)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &reply, nil
}

// Started reports that execution of the ticket's job has begun.
func (c *Client) Started(ticketID, jobID, worker string) error {
	_, err := c.do("POST", c.url("/api/v1/jobs/%s/started", ticketID),
		api.StartedRequest{JobID: jobID, Worker: worker}, nil)
	return err
}

func (c *Client) SetActive(name string, active bool) error {
	_, err := c.do("PUT", c.url("/api/v1/pools/%s/workers/%s/active", c.pool, name),
		api.ActiveRequest{Active: active}, nil)
	return err
}

func (c *Client) Release(name string) error {
	_, err := c.do("DELETE", c.url("/api/v1/pools/%s/workers/%s", c.pool, name), nil, nil)
	return err
}

// Submit enqueues a job, for the cli and tests.
func (c *Client) Submit(urgent bool, job api.JobDescriptor) (string, error) {
	var reply api.SubmitReply
	_, err := c.do("POST", c.url("/api/v1/pools/%s/jobs", c.pool),
		api.SubmitRequest{Urgent: urgent, Job: job}, &reply)
	return reply.TicketID, err
}

func (c *Client) TicketStatus(ticketID string) (*api.TicketStatus, error) {
	var st api.TicketStatus
	_, err := c.do("GET", c.url("/api/v1/jobs/%s", ticketID), nil, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Cancel(ticketID string) error {
	_, err := c.do("DELETE", c.url("/api/v1/jobs/%s", ticketID), nil, nil)
	return err
}
