package client

import (
	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/pool"
)

// Admin calls for the operator cli and tests.

func (c *Client) ListPools() ([]string, error) {
	var names []string
	_, err := c.do("GET", c.url("/admin/pools"), nil, &names)
	return names, err
}

func (c *Client) ShowPool() (*pool.ShowInfo, error) {
	var info pool.ShowInfo
	_, err := c.do("GET", c.url("/admin/pools/%s", c.pool), nil, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) ListWorkers() ([]pool.WorkerInfo, error) {
	var infos []pool.WorkerInfo
	_, err := c.do("GET", c.url("/admin/pools/%s/workers", c.pool), nil, &infos)
	return infos, err
}

func (c *Client) SetWorkerActive(name string, active bool) error {
	_, err := c.do("PUT", c.url("/admin/pools/%s/workers/%s/active", c.pool, name),
		api.ActiveRequest{Active: active}, nil)
	return err
}

// UpdateWorker asks the named agent to self-update and waits for it to
// re-register; the scheduler holds the request open for up to its update
// window.
func (c *Client) UpdateWorker(name string) error {
	_, err := c.do("POST", c.url("/admin/pools/%s/workers/%s/update", c.pool, name), nil, nil)
	return err
}

func (c *Client) PoolActive() (bool, error) {
	var reply api.ActiveReply
	_, err := c.do("GET", c.url("/admin/pools/%s/active", c.pool), nil, &reply)
	return reply.Active, err
}

func (c *Client) SetPoolActive(active bool) error {
	_, err := c.do("PUT", c.url("/admin/pools/%s/active", c.pool), api.ActiveRequest{Active: active}, nil)
	return err
}
