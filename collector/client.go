package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"
)

// Client talks to a vitalsd ingestion endpoint.
type Client struct {
	metricsURL string
	alertsURL  string
	aliveURL   string
	client     *http.Client
}

// NewClient creates a client for the vitalsd instance at uri.
func NewClient(uri string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	join := func(p string) string {
		v := *u
		v.Path = path.Join(u.Path, p)
		return v.String()
	}
	c := &Client{
		metricsURL: join("/vitals/metrics"),
		alertsURL:  join("/vitals/alerts"),
		aliveURL:   join("/alive.txt"),
	}
	c.client = &http.Client{Timeout: timeout}
	return c, nil
}

func (c *Client) post(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	response, err := c.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	buf, _ := ioutil.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("unexpected response from vitals endpoint: status: %d, msg: %s", response.StatusCode, string(buf))
}

// SendBatch submits a metric batch.
func (c *Client) SendBatch(batch interface{}) error {
	return c.post(c.metricsURL, batch)
}

// SendAlert submits a single alert.
func (c *Client) SendAlert(alert interface{}) error {
	return c.post(c.alertsURL, alert)
}

// Ping probes connectivity via the liveness resource.
func (c *Client) Ping() error {
	response, err := c.client.Get(c.aliveURL)
	if err != nil {
		return err
	}
	ioutil.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != 200 {
		return fmt.Errorf("liveness probe failed: status %d", response.StatusCode)
	}
	return nil
}
