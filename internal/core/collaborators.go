package core

import (
	"context"
	"time"
)

// ResourceHandle is an open document.
type ResourceHandle interface {
	Path() string
}

// ResourceBackend edits documents.
type ResourceBackend interface {
	Open(ctx context.Context, path string) (ResourceHandle, error)
	WriteFetchedData(ctx context.Context, handle ResourceHandle, location, artifactPath string) error
	RunMacro(ctx context.Context, handle ResourceHandle, name string) error
	Save(ctx context.Context, handle ResourceHandle) error
	Close(handle ResourceHandle, save bool) error
}

// FetchBackend retrieves external data into a local artifact.
type FetchBackend interface {
	Trigger(ctx context.Context, source string, hints ArtifactHints) error
	AwaitArtifact(ctx context.Context, hints ArtifactHints, timeout time.Duration) (string, error)
	Discard(artifactPath string) error
}

// UserInteraction is the presentation side: progress, messages and the
// blocking confirmation used by PAUSE tasks.
type UserInteraction interface {
	NotifyProgress(current, total int, message string)
	ShowInfo(title, message string)
	ShowWarning(title, message string)
	ShowError(title, message string)
	ConfirmBlocking(ctx context.Context, title, message string) error
}

// TaskSource loads the active tasks of the task master.
type TaskSource interface {
	LoadActiveTasks(ctx context.Context) (TaskList, error)
}

// Notifier pushes a short message to the operator.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Store persists batch history.
type Store interface {
	InsertBatch(ctx context.Context, batch *Batch) error
	CompleteBatch(ctx context.Context, batch *Batch) error
	InsertTaskOutcomes(ctx context.Context, batchID string, outcomes []TaskOutcome) error
	PruneOldBatches(ctx context.Context) error
}
