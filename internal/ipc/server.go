package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"lyrebird/internal/api"
	"lyrebird/internal/daemon"
	"lyrebird/internal/logging"
	"lyrebird/internal/logs"
	"lyrebird/internal/registry"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Lyrebird", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun lyrebird stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.RegistryDBPath = status.RegistryDBPath
	resp.LockPath = status.LockFilePath
	resp.Accelerator = status.Accelerator
	resp.QueueStats = make(map[string]int, len(status.Workflow.QueueStats))
	for k, v := range status.Workflow.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	resp.LastError = status.Workflow.LastError
	if status.Workflow.LastJob != nil {
		dto := api.FromJob(status.Workflow.LastJob)
		resp.LastJob = &dto
	}
	resp.StageHealth = api.StageHealthSlice(status.Workflow.StageHealth)
	resp.Dependencies = api.FromDependencyStatuses(status.Dependencies)
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("submit requested", logging.String("path", req.Path))
	job, isNew, err := s.daemon.Submit(s.ctx, daemon.SubmitOptions{
		SourcePath:           req.Path,
		Title:                req.Title,
		SeparationVariant:    req.SeparationVariant,
		TranscriptionVariant: req.TranscriptionVariant,
		Language:             req.Language,
	})
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(job)
	resp.IsNew = isNew
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	statuses := make([]registry.JobStatus, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := registry.ParseJobStatus(status)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	jobs, err := s.daemon.ListJobs(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Jobs = api.FromJobs(jobs)
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("job describe requires an id")
	}
	job, err := s.daemon.GetJob(s.ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	stages, err := s.daemon.JobStages(s.ctx, id)
	if err != nil {
		return err
	}
	dto := api.FromJob(job)
	dto.Stages = api.FromStageRecords(stages)
	resp.Job = dto

	recs, err := s.daemon.JobArtifacts(s.ctx, id)
	if err != nil {
		return err
	}
	resp.Artifacts = api.FromArtifacts(recs)
	return nil
}

func (s *service) JobRemove(req JobRemoveRequest, resp *JobRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("job remove requires at least one id")
	}
	s.log().Debug("job remove requested", logging.Int("job_count", len(req.IDs)))
	result, err := s.daemon.RemoveJobs(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Removed = result.RemovedCount
	resp.Jobs = result.Jobs
	s.log().Info("jobs removed",
		logging.String(logging.FieldEventType, "jobs_removed"),
		logging.Int("removed_count", result.RemovedCount))
	return nil
}

func (s *service) RunStage(req RunStageRequest, resp *RunStageResponse) error {
	s.log().Debug("stage run requested",
		logging.String(logging.FieldJobID, req.ID),
		logging.String(logging.FieldStage, req.Stage))
	if err := s.daemon.RunStage(s.ctx, req.ID, req.Stage); err != nil {
		return err
	}
	resp.Completed = true
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx := s.ctx
	wait := req.WaitMillis > 0
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, time.Duration(req.WaitMillis)*time.Millisecond)
		defer cancel()
	}
	evts, next, err := s.daemon.FetchEvents(ctx, req.JobID, req.Since, req.Limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Events = evts
	resp.Next = next
	return nil
}

func (s *service) Clear(_ ClearRequest, resp *ClearResponse) error {
	s.log().Debug("registry clear requested")
	removed, err := s.daemon.Clear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry cleared",
		logging.String(logging.FieldEventType, "registry_clear"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) ClearCompleted(_ ClearCompletedRequest, resp *ClearCompletedResponse) error {
	s.log().Debug("registry clear completed requested")
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry completed jobs cleared",
		logging.String(logging.FieldEventType, "registry_clear_completed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) ClearFailed(_ ClearFailedRequest, resp *ClearFailedResponse) error {
	s.log().Debug("registry clear failed requested")
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("registry failed jobs cleared",
		logging.String(logging.FieldEventType, "registry_clear_failed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) Reset(_ ResetRequest, resp *ResetResponse) error {
	s.log().Debug("registry reset stuck requested")
	updated, err := s.daemon.ResetStuck(s.ctx)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("registry stuck jobs reset",
		logging.String(logging.FieldEventType, "registry_reset_stuck"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) RegistryHealth(_ RegistryHealthRequest, resp *RegistryHealthResponse) error {
	health, err := s.daemon.RegistryHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Pending = health.Pending
	resp.Running = health.Running
	resp.Completed = health.Completed
	resp.Failed = health.Failed
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.SchemaVersion = health.SchemaVersion
	resp.TableExists = health.TableExists
	resp.ColumnsPresent = append(resp.ColumnsPresent, health.ColumnsPresent...)
	resp.MissingColumns = append(resp.MissingColumns, health.MissingColumns...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalJobs = health.TotalJobs
	resp.Error = health.Error
	if err != nil {
		return err
	}
	return nil
}

func (s *service) DepsCheck(_ DepsCheckRequest, resp *DepsCheckResponse) error {
	resp.Dependencies = api.FromDependencyStatuses(s.daemon.Dependencies())
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
