package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Lyrebird.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Lyrebird.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Lyrebird.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit registers a local file for processing.
func (c *Client) Submit(req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.client.Call("Lyrebird.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs optionally filtered by statuses.
func (c *Client) JobList(statuses []string) (*JobListResponse, error) {
	var resp JobListResponse
	req := JobListRequest{Statuses: statuses}
	if err := c.client.Call("Lyrebird.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe returns details for a single job.
func (c *Client) JobDescribe(id string) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Lyrebird.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobRemove removes specific jobs by ID.
func (c *Client) JobRemove(ids []string) (*JobRemoveResponse, error) {
	var resp JobRemoveResponse
	req := JobRemoveRequest{IDs: ids}
	if err := c.client.Call("Lyrebird.JobRemove", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunStage executes one stage of a job and waits for it to finish.
func (c *Client) RunStage(id, stage string) (*RunStageResponse, error) {
	var resp RunStageResponse
	req := RunStageRequest{ID: id, Stage: stage}
	if err := c.client.Call("Lyrebird.RunStage", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches progress events past a cursor.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.client.Call("Lyrebird.Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear removes all jobs from the registry.
func (c *Client) Clear() (*ClearResponse, error) {
	var resp ClearResponse
	if err := c.client.Call("Lyrebird.Clear", ClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCompleted removes only completed jobs from the registry.
func (c *Client) ClearCompleted() (*ClearCompletedResponse, error) {
	var resp ClearCompletedResponse
	if err := c.client.Call("Lyrebird.ClearCompleted", ClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearFailed removes failed jobs from the registry.
func (c *Client) ClearFailed() (*ClearFailedResponse, error) {
	var resp ClearFailedResponse
	if err := c.client.Call("Lyrebird.ClearFailed", ClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset requeues jobs stuck in the running state.
func (c *Client) Reset() (*ResetResponse, error) {
	var resp ResetResponse
	if err := c.client.Call("Lyrebird.Reset", ResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegistryHealth returns aggregate job counts.
func (c *Client) RegistryHealth() (*RegistryHealthResponse, error) {
	var resp RegistryHealthResponse
	if err := c.client.Call("Lyrebird.RegistryHealth", RegistryHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Lyrebird.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DepsCheck reports external dependency availability.
func (c *Client) DepsCheck() (*DepsCheckResponse, error) {
	var resp DepsCheckResponse
	if err := c.client.Call("Lyrebird.DepsCheck", DepsCheckRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Lyrebird.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Lyrebird.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
