package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
)

// handleListNodes handles the list_nodes tool
func (s *Server) handleListNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reg := s.cfg.Generator.Registry()
	nodes := make([]map[string]interface{}, 0, len(reg.Names()))

	for _, n := range reg.Nodes() {
		nodeInfo := map[string]interface{}{
			"name":  n.Name,
			"kind":  n.Kind,
			"path":  n.Path,
			"state": s.cfg.Generator.State(n.Name),
		}
		if n.Kind != models.NodeKindFinal {
			nodeInfo["children"] = n.Children
		} else {
			nodeInfo["entity"] = n.Entity
			nodeInfo["content_type"] = n.ContentType
			if n.Sharded() {
				nodeInfo["sharding_strategy"] = n.Strategy
				nodeInfo["shards"] = len(n.Shards)
			}
		}

		// Last generation time from the file on disk
		if info, err := os.Stat(filepath.Join(s.cfg.AppConfig.OutputDir, n.Path)); err == nil {
			nodeInfo["last_generated"] = info.ModTime().UTC().Format(time.RFC3339)
		}

		// Check if currently running
		if s.jobManager.IsRunning(n.Name) || s.cfg.Generator.InFlight(n.Name) {
			nodeInfo["status"] = "running"
		}

		nodes = append(nodes, nodeInfo)
	}

	result := map[string]interface{}{
		"nodes":       nodes,
		"roots":       orchestrate.RootNodeNames(reg),
		"config_path": s.cfg.ConfigPath,
		"total_nodes": len(nodes),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGenerateNode handles the generate_node tool
func (s *Server) handleGenerateNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	node := request.GetString("node", "")
	if node == "" {
		return mcp.NewToolResultError("node parameter is required"), nil
	}

	publish := request.GetBool("publish", false)
	if publish && s.cfg.Publisher == nil {
		return mcp.NewToolResultError("publishing is not enabled in the config file"), nil
	}

	// Check if node exists
	if err := orchestrate.ValidateNodeNames(s.cfg.Generator.Registry(), []string{node}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Check if already running
	if s.jobManager.IsRunning(node) {
		existingJob := s.jobManager.GetJobByNode(node)
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A generation is already in progress for this node",
			"job_id":  existingJob.ID,
			"node":    node,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	// Create job
	job, err := s.jobManager.CreateJob(node, publish)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}

	// Start generation in background
	go s.runGenerateJob(job)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Generation started successfully",
		"job_id":  job.ID,
		"node":    node,
		"publish": publish,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	// Snapshot under the manager's lock
	s.jobManager.mu.RLock()
	result := map[string]interface{}{
		"job_id":        job.ID,
		"node":          job.Node,
		"status":        job.Status,
		"started_at":    job.StartedAt.Format(time.RFC3339),
		"urls_listed":   job.URLsListed,
		"files_written": job.FilesWritten,
		"publish":       job.Publish,
	}
	if job.RunID != "" {
		result["run_id"] = job.RunID
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	s.jobManager.mu.RUnlock()

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleVerifySitemap handles the verify_sitemap tool
func (s *Server) handleVerifySitemap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel := request.GetString("path", "")
	if rel == "" {
		root, err := s.cfg.Generator.Registry().Get(s.cfg.AppConfig.RootNode)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rel = root.Path
	}

	verifier := sitemap.NewVerifier(s.cfg.AppConfig.OutputDir, s.cfg.AppConfig.BaseURL, s.log)
	report, err := verifier.Verify(ctx, rel)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("verification failed", err), nil
	}

	result := map[string]interface{}{
		"ok":     report.OK(),
		"report": report,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleValidateURL handles the validate_url tool
func (s *Server) handleValidateURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL := request.GetString("url", "")
	if rawURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	candidate := models.CandidateURL{
		Loc:         rawURL,
		ContentType: models.ContentType(request.GetString("content_type", "")),
	}
	if status := request.GetInt("status_code", 0); status > 0 {
		candidate.StatusCode = models.Int(status)
	}
	if request.GetBool("noindex", false) {
		candidate.IsIndexable = models.Bool(false)
	}
	if request.GetBool("non_canonical", false) {
		candidate.IsCanonical = models.Bool(false)
	}
	if a := request.GetString("availability", ""); a != "" {
		availability := models.Availability(a)
		if !availability.IsValid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown availability '%s'", a)), nil
		}
		candidate.Availability = &availability
	}

	res := s.cfg.Validator.Validate(candidate)
	result := map[string]interface{}{
		"url":            rawURL,
		"is_valid":       res.IsValid,
		"normalized_url": res.NormalizedURL,
	}
	if len(res.Reasons) > 0 {
		result["exclusion_reasons"] = res.Reasons
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRecordChange handles the record_change tool
func (s *Server) handleRecordChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL := request.GetString("url", "")
	if rawURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	args := request.GetArguments()
	data := models.URLData{Canonical: request.GetString("canonical", rawURL)}
	if _, ok := args["price"]; ok {
		data.Price = models.Float(request.GetFloat("price", 0))
	}
	if _, ok := args["stock"]; ok {
		data.Stock = models.Int(request.GetInt("stock", 0))
	}
	if raw, ok := args["metadata"]; ok && raw != nil {
		meta, ok := raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("metadata must be an object"), nil
		}
		data.Metadata = meta
	}

	res, err := s.cfg.Delta.Record(ctx, rawURL, data)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to record change", err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"result": res})), nil
}

// handleGetDeltaChanges handles the get_delta_changes tool
func (s *Server) handleGetDeltaChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := request.GetString("date", "")
	maxResults := request.GetInt("max_results", 100)
	if maxResults <= 0 {
		maxResults = 100
	}
	if maxResults > 1000 {
		maxResults = 1000
	}

	changes, err := s.cfg.Delta.Changes(ctx, date)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to read changes", err), nil
	}

	total := len(changes)
	if total > maxResults {
		changes = changes[:maxResults]
	}
	response := map[string]interface{}{
		"changes":       changes,
		"total_changes": total,
		"truncated":     total > maxResults,
	}
	if date != "" {
		response["date"] = date
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetDeltaStats handles the get_delta_stats tool
func (s *Server) handleGetDeltaStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.cfg.Delta.Stats(ctx, request.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to read stats", err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"stats": stats})), nil
}

// handleEmitDelta handles the emit_delta tool
func (s *Server) handleEmitDelta(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.cfg.Delta.Emit(ctx, request.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to emit delta sitemap", err), nil
	}
	message := "Delta sitemap written"
	if !res.Emitted {
		message = "No changes recorded, nothing written"
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"message": message, "result": res})), nil
}

// handleCleanupDeltas handles the cleanup_deltas tool
func (s *Server) handleCleanupDeltas(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.cfg.Delta.Cleanup(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("cleanup failed", err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"removed": res})), nil
}

// handleGetDeltaConfig handles the get_delta_config tool
func (s *Server) handleGetDeltaConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"config": s.cfg.Delta.Config()})), nil
}

// runGenerateJob runs a generation job in the background
func (s *Server) runGenerateJob(job *Job) {
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")

	jobCtx := s.jobManager.GetContext(job.ID)

	var publisher orchestrate.Publisher
	if job.Publish {
		publisher = s.cfg.Publisher
	}
	o := orchestrate.NewOrchestrator(jobCtx, s.cfg.Generator, []string{job.Node}, publisher, s.log)
	result := o.Run()[0]

	if result.Run != nil {
		s.jobManager.UpdateProgress(job.ID, result.Run.RunID, int64(result.URLs), int64(len(result.Run.Artifacts())))
	}

	switch {
	case errors.Is(jobCtx.Err(), context.Canceled):
		s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
	case !result.Success:
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, result.Error.Error())
	default:
		s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
	}
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
