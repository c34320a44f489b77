package httpx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// In-memory repositories backing real services in handler tests. Behavior
// mirrors the Postgres implementations closely enough for the HTTP layer:
// sentinel errors, validation at the repo boundary, simple FIFO reservation.

type fakeJobRepo struct {
	mu   sync.Mutex
	seq  int
	jobs []*model.Job
}

func (r *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now().UTC()
	job := &model.Job{
		ID:          fmt.Sprintf("job-%d", r.seq),
		Type:        req.Type,
		Status:      model.JobStatusPending,
		Priority:    req.Priority,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
		PageID:      req.PageID,
		ScanID:      req.ScanID,
		MaxRetries:  req.MaxRetries,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs = append(r.jobs, job)
	return job, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, data.ErrJobNotFound
}

func (r *fakeJobRepo) ReserveNext(
	_ context.Context,
	jobType model.JobType,
	leaseSeconds int,
) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Type == jobType && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusRunning
			expires := time.Now().Add(time.Duration(leaseSeconds) * time.Second)
			j.LeaseExpiresAt = &expires
			return j, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) WaitForNotification(ctx context.Context, _ model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeJobRepo) Heartbeat(_ context.Context, jobID string, _ int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == jobID && j.Status == model.JobStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeJobRepo) Complete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == id && j.Status == model.JobStatusRunning {
			j.Status = model.JobStatusCompleted
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeJobRepo) Fail(_ context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == id && j.Status == model.JobStatusRunning {
			j.Status = model.JobStatusFailed
			j.LastError = &errMsg
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeJobRepo) Stats(_ context.Context, jobType model.JobType) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, j := range r.jobs {
		if j.Type != jobType {
			continue
		}
		switch j.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *fakeJobRepo) List(_ context.Context, _ *model.JobListOptions) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Job{}, r.jobs...), nil
}

func (r *fakeJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, j := range r.jobs {
		if j.ID == id {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			return nil
		}
	}
	return data.ErrJobNotFound
}

type fakeScanRepo struct {
	mu    sync.Mutex
	seq   int
	scans map[string]*model.Scan
}

func newFakeScanRepo() *fakeScanRepo {
	return &fakeScanRepo{scans: make(map[string]*model.Scan)}
}

func (r *fakeScanRepo) Create(_ context.Context, req *model.CreateScanRequest) (*model.Scan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now().UTC()
	scan := &model.Scan{
		ID:        fmt.Sprintf("scan-%d", r.seq),
		PageID:    req.PageID,
		Status:    model.ScanStatusPending,
		Collector: req.Collector,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.scans[scan.ID] = scan
	return scan, nil
}

func (r *fakeScanRepo) GetByID(_ context.Context, id string) (*model.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if scan, ok := r.scans[id]; ok {
		return scan, nil
	}
	return nil, data.ErrScanNotFound
}

func (r *fakeScanRepo) List(
	_ context.Context,
	opts model.ScanListOptions,
) ([]*model.ScanWithPageName, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ScanWithPageName
	for _, scan := range r.scans {
		if opts.PageID != nil && scan.PageID != *opts.PageID {
			continue
		}
		if opts.Status != nil && scan.Status != *opts.Status {
			continue
		}
		out = append(out, &model.ScanWithPageName{Scan: *scan, PageName: "page"})
	}
	return out, nil
}

func (r *fakeScanRepo) MarkRunning(
	_ context.Context,
	id string,
	startedAt time.Time,
) (*model.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scan, ok := r.scans[id]
	if !ok {
		return nil, data.ErrScanNotFound
	}
	scan.Status = model.ScanStatusRunning
	scan.StartedAt = &startedAt
	return scan, nil
}

func (r *fakeScanRepo) Complete(
	_ context.Context,
	params core.CompleteScanParams,
) (*model.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scan, ok := r.scans[params.ID]
	if !ok {
		return nil, data.ErrScanNotFound
	}
	scan.Status = model.ScanStatusCompleted
	scan.FinalURL = params.FinalURL
	scan.RequestCount = params.RequestCount
	scan.TotalBytes = params.TotalBytes
	scan.CompletedAt = &params.CompletedAt
	return scan, nil
}

func (r *fakeScanRepo) MarkFailed(_ context.Context, id, errMsg string) (*model.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scan, ok := r.scans[id]
	if !ok {
		return nil, data.ErrScanNotFound
	}
	scan.Status = model.ScanStatusFailed
	scan.Error = &errMsg
	return scan, nil
}

func (r *fakeScanRepo) LatestCompletedForPage(
	_ context.Context,
	pageID string,
) (*model.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Scan
	for _, scan := range r.scans {
		if scan.PageID == pageID && scan.Status == model.ScanStatusCompleted {
			if latest == nil || scan.CreatedAt.After(latest.CreatedAt) {
				latest = scan
			}
		}
	}
	if latest == nil {
		return nil, data.ErrScanNotFound
	}
	return latest, nil
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[string][]*model.RequestRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[string][]*model.RequestRecord)}
}

func (r *fakeRecordRepo) BulkInsert(
	_ context.Context,
	scanID string,
	inputs []model.RequestRecordInput,
) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range inputs {
		r.records[scanID] = append(r.records[scanID], &model.RequestRecord{
			ID:           fmt.Sprintf("rec-%d", len(r.records[scanID])+1),
			ScanID:       scanID,
			URL:          in.URL,
			Host:         in.Host,
			ResourceType: in.ResourceType,
			TransferSize: in.TransferSize,
			StatusCode:   in.StatusCode,
			MimeType:     in.MimeType,
			Seq:          in.Seq,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return len(inputs), nil
}

func (r *fakeRecordRepo) ListByScan(
	_ context.Context,
	scanID string,
) ([]*model.RequestRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.RequestRecord{}, r.records[scanID]...), nil
}

func (r *fakeRecordRepo) CountByScan(_ context.Context, scanID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records[scanID]), nil
}

type fakePageRepo struct {
	mu    sync.Mutex
	seq   int
	pages map[string]*model.Page
}

func newFakePageRepo() *fakePageRepo {
	return &fakePageRepo{pages: make(map[string]*model.Page)}
}

func (r *fakePageRepo) add(page *model.Page) *model.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if page.ID == "" {
		page.ID = fmt.Sprintf("page-%d", r.seq)
	}
	r.pages[page.ID] = page
	return page
}

func (r *fakePageRepo) Create(_ context.Context, req *model.CreatePageRequest) (*model.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, p := range r.pages {
		if p.Name == req.Name {
			r.mu.Unlock()
			return nil, data.ErrPageNameExists
		}
	}
	r.mu.Unlock()
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := time.Now().UTC()
	return r.add(&model.Page{
		Name:                req.Name,
		URL:                 req.URL,
		Enabled:             enabled,
		CaptureEveryMinutes: req.CaptureEveryMinutes,
		FirstPartyPatterns:  req.FirstPartyPatterns,
		BudgetSetID:         req.BudgetSetID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}), nil
}

func (r *fakePageRepo) GetByID(_ context.Context, id string) (*model.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page, ok := r.pages[id]; ok {
		return page, nil
	}
	return nil, data.ErrPageNotFound
}

func (r *fakePageRepo) GetByName(_ context.Context, name string) (*model.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, page := range r.pages {
		if page.Name == name {
			return page, nil
		}
	}
	return nil, data.ErrPageNotFound
}

func (r *fakePageRepo) List(_ context.Context, _ model.PagesListOptions) ([]*model.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Page, 0, len(r.pages))
	for _, page := range r.pages {
		out = append(out, page)
	}
	return out, nil
}

func (r *fakePageRepo) Update(
	_ context.Context,
	id string,
	req model.UpdatePageRequest,
) (*model.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, ok := r.pages[id]
	if !ok {
		return nil, data.ErrPageNotFound
	}
	if req.Name != nil {
		page.Name = *req.Name
	}
	if req.URL != nil {
		page.URL = *req.URL
	}
	if req.Enabled != nil {
		page.Enabled = *req.Enabled
	}
	if req.CaptureEveryMinutes != nil {
		page.CaptureEveryMinutes = *req.CaptureEveryMinutes
	}
	return page, nil
}

func (r *fakePageRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pages[id]; !ok {
		return false, nil
	}
	delete(r.pages, id)
	return true, nil
}

func (r *fakePageRepo) TouchLastCaptured(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page, ok := r.pages[id]; ok {
		page.LastCapturedAt = &at
	}
	return nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[string]*model.ScanReport // keyed by scan ID
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[string]*model.ScanReport)}
}

func (r *fakeReportRepo) Create(
	_ context.Context,
	report *model.ScanReport,
) (*model.ScanReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[report.ScanID]; ok {
		return nil, data.ErrReportExists
	}
	stored := *report
	if stored.ID == "" {
		stored.ID = "report-" + report.ScanID
	}
	stored.CreatedAt = time.Now().UTC()
	r.reports[report.ScanID] = &stored
	return &stored, nil
}

func (r *fakeReportRepo) GetByScanID(_ context.Context, scanID string) (*model.ScanReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if report, ok := r.reports[scanID]; ok {
		return report, nil
	}
	return nil, data.ErrReportNotFound
}

func (r *fakeReportRepo) LatestForPage(_ context.Context, pageID string) (*model.ScanReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.ScanReport
	for _, report := range r.reports {
		if report.PageID == pageID {
			if latest == nil || report.CreatedAt.After(latest.CreatedAt) {
				latest = report
			}
		}
	}
	if latest == nil {
		return nil, data.ErrReportNotFound
	}
	return latest, nil
}

type fakeBudgetSetRepo struct {
	mu    sync.Mutex
	sets  map[string]*model.BudgetSet
	inUse map[string]bool
}

func newFakeBudgetSetRepo() *fakeBudgetSetRepo {
	return &fakeBudgetSetRepo{
		sets:  make(map[string]*model.BudgetSet),
		inUse: make(map[string]bool),
	}
}

// markInUse flags a set as referenced by a page, so Delete reports the
// conflict the way the SQL repo does when the pages FK restricts it.
func (r *fakeBudgetSetRepo) markInUse(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse[id] = true
}

func (r *fakeBudgetSetRepo) Create(
	_ context.Context,
	req *model.CreateBudgetSetRequest,
) (*model.BudgetSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sets {
		if existing.Name == req.Name {
			return nil, data.ErrBudgetSetNameExists
		}
	}
	set := &model.BudgetSet{
		ID:          fmt.Sprintf("set-%d", len(r.sets)+1),
		Name:        req.Name,
		Description: req.Description,
		Budgets:     req.Budgets,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
	}
	r.sets[set.ID] = set
	return set, nil
}

func (r *fakeBudgetSetRepo) GetByID(_ context.Context, id string) (*model.BudgetSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sets[id]; ok {
		return set, nil
	}
	return nil, data.ErrBudgetSetNotFound
}

func (r *fakeBudgetSetRepo) GetByName(_ context.Context, name string) (*model.BudgetSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.sets {
		if set.Name == name {
			return set, nil
		}
	}
	return nil, data.ErrBudgetSetNotFound
}

func (r *fakeBudgetSetRepo) List(
	_ context.Context,
	_ model.BudgetSetListOptions,
) ([]*model.BudgetSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.BudgetSet, 0, len(r.sets))
	for _, set := range r.sets {
		out = append(out, set)
	}
	return out, nil
}

func (r *fakeBudgetSetRepo) Update(
	_ context.Context,
	id string,
	req model.UpdateBudgetSetRequest,
) (*model.BudgetSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[id]
	if !ok {
		return nil, data.ErrBudgetSetNotFound
	}
	if req.Name != nil {
		set.Name = *req.Name
	}
	if req.Budgets != nil {
		set.Budgets = req.Budgets
		set.Version++
	}
	return set, nil
}

func (r *fakeBudgetSetRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[id]; !ok {
		return false, nil
	}
	if r.inUse[id] {
		return false, data.ErrBudgetSetInUse
	}
	delete(r.sets, id)
	return true, nil
}

type fakeWebhookSinkRepo struct {
	mu    sync.Mutex
	sinks map[string]*model.WebhookSink
}

func newFakeWebhookSinkRepo() *fakeWebhookSinkRepo {
	return &fakeWebhookSinkRepo{sinks: make(map[string]*model.WebhookSink)}
}

func (r *fakeWebhookSinkRepo) Create(
	_ context.Context,
	params *core.CreateWebhookSinkParams,
) (*model.WebhookSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sinks {
		if existing.Name == params.Name {
			return nil, data.ErrWebhookSinkNameExists
		}
	}
	sink := &model.WebhookSink{
		ID:              fmt.Sprintf("sink-%d", len(r.sinks)+1),
		Name:            params.Name,
		URL:             params.URL,
		PayloadExpr:     params.PayloadExpr,
		Enabled:         params.Enabled,
		TokenCiphertext: params.TokenCiphertext,
		CreatedAt:       time.Now().UTC(),
	}
	r.sinks[sink.ID] = sink
	return sink, nil
}

func (r *fakeWebhookSinkRepo) GetByID(_ context.Context, id string) (*model.WebhookSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink, ok := r.sinks[id]; ok {
		return sink, nil
	}
	return nil, data.ErrWebhookSinkNotFound
}

func (r *fakeWebhookSinkRepo) GetByName(_ context.Context, name string) (*model.WebhookSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sink := range r.sinks {
		if sink.Name == name {
			return sink, nil
		}
	}
	return nil, data.ErrWebhookSinkNotFound
}

func (r *fakeWebhookSinkRepo) List(
	_ context.Context,
	opts model.WebhookSinkListOptions,
) ([]*model.WebhookSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.WebhookSink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		if opts.Enabled != nil && sink.Enabled != *opts.Enabled {
			continue
		}
		out = append(out, sink)
	}
	return out, nil
}

func (r *fakeWebhookSinkRepo) ListEnabled(_ context.Context) ([]*model.WebhookSink, error) {
	enabled := true
	return r.List(context.Background(), model.WebhookSinkListOptions{Enabled: &enabled})
}

func (r *fakeWebhookSinkRepo) Update(
	_ context.Context,
	id string,
	params *core.UpdateWebhookSinkParams,
) (*model.WebhookSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.sinks[id]
	if !ok {
		return nil, data.ErrWebhookSinkNotFound
	}
	if params.Name != nil {
		sink.Name = *params.Name
	}
	if params.URL != nil {
		sink.URL = *params.URL
	}
	if params.PayloadExpr != nil {
		sink.PayloadExpr = params.PayloadExpr
	}
	if params.Enabled != nil {
		sink.Enabled = *params.Enabled
	}
	if params.ClearToken {
		sink.TokenCiphertext = nil
	} else if params.TokenCiphertext != nil {
		sink.TokenCiphertext = params.TokenCiphertext
	}
	return sink, nil
}

func (r *fakeWebhookSinkRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[id]; !ok {
		return false, nil
	}
	delete(r.sinks, id)
	return true, nil
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*model.OverageAlert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[string]*model.OverageAlert)}
}

func (r *fakeAlertRepo) add(alert *model.OverageAlert) *model.OverageAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("alert-%d", len(r.alerts)+1)
	}
	r.alerts[alert.ID] = alert
	return alert
}

func (r *fakeAlertRepo) Create(
	_ context.Context,
	req *model.CreateOverageAlertRequest,
) (*model.OverageAlert, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return r.add(&model.OverageAlert{
		PageID:         req.PageID,
		ScanID:         req.ScanID,
		Severity:       model.AlertSeverity(req.Severity),
		Title:          req.Title,
		Summary:        req.Summary,
		Details:        req.Details,
		DeliveryStatus: req.DeliveryStatus,
		FiredAt:        time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}), nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, id string) (*model.OverageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert, ok := r.alerts[id]; ok {
		return alert, nil
	}
	return nil, data.ErrAlertNotFound
}

func (r *fakeAlertRepo) List(
	_ context.Context,
	_ *model.AlertListOptions,
) ([]*model.OverageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.OverageAlert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		out = append(out, alert)
	}
	return out, nil
}

func (r *fakeAlertRepo) ListWithPageNames(
	ctx context.Context,
	opts *model.AlertListOptions,
) ([]*model.AlertWithPageName, error) {
	alerts, err := r.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*model.AlertWithPageName, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, &model.AlertWithPageName{OverageAlert: *alert, PageName: "page"})
	}
	return out, nil
}

func (r *fakeAlertRepo) ListWithPageNamesAndCount(
	ctx context.Context,
	opts *model.AlertListOptions,
) (*model.AlertListResult, error) {
	alerts, err := r.ListWithPageNames(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &model.AlertListResult{Alerts: alerts, Total: len(alerts)}, nil
}

func (r *fakeAlertRepo) Count(_ context.Context, _ *model.AlertListOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts), nil
}

func (r *fakeAlertRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[id]; !ok {
		return false, nil
	}
	delete(r.alerts, id)
	return true, nil
}

func (r *fakeAlertRepo) Stats(_ context.Context, _ *string) (*model.AlertStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.AlertStats{Total: len(r.alerts)}, nil
}

func (r *fakeAlertRepo) Resolve(
	_ context.Context,
	params core.ResolveAlertParams,
) (*model.OverageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[params.ID]
	if !ok {
		return nil, data.ErrAlertNotFound
	}
	now := time.Now().UTC()
	alert.ResolvedAt = &now
	alert.ResolvedBy = &params.ResolvedBy
	return alert, nil
}

func (r *fakeAlertRepo) UpdateDeliveryStatus(
	_ context.Context,
	params core.UpdateAlertDeliveryStatusParams,
) (*model.OverageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[params.ID]
	if !ok {
		return nil, data.ErrAlertNotFound
	}
	alert.DeliveryStatus = params.Status
	return alert, nil
}

// testServices bundles real services over the in-memory repos for handler tests.
type testServices struct {
	jobRepo    *fakeJobRepo
	scanRepo   *fakeScanRepo
	recordRepo *fakeRecordRepo
	pageRepo   *fakePageRepo
	reportRepo *fakeReportRepo
	budgetRepo *fakeBudgetSetRepo
	alertRepo  *fakeAlertRepo
	sinkRepo   *fakeWebhookSinkRepo

	jobs     *service.JobService
	scans    *service.ScanService
	audits   *service.AuditService
	pages    *service.PageService
	alerts   *service.AlertService
	budgets  *service.BudgetSetService
	sinks    *service.WebhookSinkService
	delivery *service.WebhookDeliveryService
}

func newTestServices(t interface{ Fatalf(string, ...any) }) *testServices {
	s := &testServices{
		jobRepo:    &fakeJobRepo{},
		scanRepo:   newFakeScanRepo(),
		recordRepo: newFakeRecordRepo(),
		pageRepo:   newFakePageRepo(),
		reportRepo: newFakeReportRepo(),
		budgetRepo: newFakeBudgetSetRepo(),
		alertRepo:  newFakeAlertRepo(),
		sinkRepo:   newFakeWebhookSinkRepo(),
	}

	var err error
	s.jobs, err = service.NewJobService(service.JobServiceOptions{
		Repo:         s.jobRepo,
		DefaultLease: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("create job service: %v", err)
	}
	s.scans, err = service.NewScanService(service.ScanServiceOptions{
		Scans:   s.scanRepo,
		Records: s.recordRepo,
		Deps: service.ScanServiceDeps{
			Jobs:  s.jobRepo,
			Pages: s.pageRepo,
		},
	})
	if err != nil {
		t.Fatalf("create scan service: %v", err)
	}
	s.audits, err = service.NewAuditService(service.AuditServiceOptions{
		Scans:   s.scanRepo,
		Reports: s.reportRepo,
		Deps: service.AuditServiceDeps{
			Pages:      s.pageRepo,
			BudgetSets: s.budgetRepo,
			Records:    s.recordRepo,
			Alerts:     s.alertRepo,
			Jobs:       s.jobRepo,
		},
	})
	if err != nil {
		t.Fatalf("create audit service: %v", err)
	}
	s.pages = service.NewPageService(service.PageServiceOptions{PageRepo: s.pageRepo})
	s.alerts, err = service.NewAlertService(service.AlertServiceOptions{Repo: s.alertRepo})
	if err != nil {
		t.Fatalf("create alert service: %v", err)
	}
	s.budgets, err = service.NewBudgetSetService(service.BudgetSetServiceOptions{Repo: s.budgetRepo})
	if err != nil {
		t.Fatalf("create budget set service: %v", err)
	}
	s.sinks, err = service.NewWebhookSinkService(service.WebhookSinkServiceOptions{
		Repo:      s.sinkRepo,
		Encryptor: cryptoutil.NoopEncryptor{},
	})
	if err != nil {
		t.Fatalf("create webhook sink service: %v", err)
	}
	s.delivery, err = service.NewWebhookDeliveryService(service.WebhookDeliveryOptions{
		Sinks: s.sinks,
		Config: service.WebhookDeliveryConfig{
			Timeout:          5 * time.Second,
			MaxResponseBytes: 1024,
		},
	})
	if err != nil {
		t.Fatalf("create webhook delivery service: %v", err)
	}
	return s
}
