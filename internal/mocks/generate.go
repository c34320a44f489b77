// Package mocks provides mock implementations for testing the pagetally service.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, ReserveNext, WaitForNotification, Heartbeat, Complete, Fail, Stats, GetByID, List, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/pagetally/pagetally/internal/core JobRepository

// Generate mock for RequestRecordRepository interface from internal/core package.
// This creates MockRequestRecordRepository with methods for all RequestRecordRepository interface methods:
// BulkInsert, ListByScan, CountByScan
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=request_record_repository_mock.go github.com/pagetally/pagetally/internal/core RequestRecordRepository

// Generate mock for ScheduledJobsRepository interface from internal/core package.
// This creates MockScheduledJobsRepository with methods for all ScheduledJobsRepository interface methods:
// FindDue, MarkQueued, TryWithTaskLock
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=scheduled_jobs_repository_mock.go github.com/pagetally/pagetally/internal/core ScheduledJobsRepository

// Generate mock for JobIntrospector interface from internal/core package.
// This creates MockJobIntrospector with methods for all JobIntrospector interface methods:
// RunningJobExistsByTaskName, JobStatesByTaskName
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_introspector_mock.go github.com/pagetally/pagetally/internal/core JobIntrospector

// Generate mock for PageRepository interface from internal/core package.
// This creates MockPageRepository with methods for all PageRepository interface methods:
// Create, GetByID, GetByName, List, Update, Delete, TouchLastCaptured
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=page_repository_mock.go github.com/pagetally/pagetally/internal/core PageRepository

// Generate mock for BudgetSetRepository interface from internal/core package.
// This creates MockBudgetSetRepository with methods for all BudgetSetRepository interface methods:
// Create, GetByID, GetByName, List, Update, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=budget_set_repository_mock.go github.com/pagetally/pagetally/internal/core BudgetSetRepository

// Generate mock for WebhookSinkRepository interface from internal/core package.
// This creates MockWebhookSinkRepository with methods for all WebhookSinkRepository interface methods:
// Create, GetByID, GetByName, List, ListEnabled, Update, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=webhook_sink_repository_mock.go github.com/pagetally/pagetally/internal/core WebhookSinkRepository

// Generate mock for AlertRepository interface from internal/core package.
// This creates MockAlertRepository with methods for all AlertRepository interface methods:
// Create, GetByID, List, Delete, Stats, Resolve, UpdateDeliveryStatus
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=alert_repository_mock.go github.com/pagetally/pagetally/internal/core AlertRepository
