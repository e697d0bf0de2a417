package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ScriptIndexPrefix marks a download link whose real URL only appears after
// triggering page script on the episode page.
const ScriptIndexPrefix = "script-index:"

// DownloadLink is a download candidate as found on an episode page
type DownloadLink struct {
	Host    string `json:"host"`
	URL     string `json:"url"`
	PageURL string `json:"page_url,omitempty"`
}

// DeferredLink builds a placeholder link for the server element at index.
func DeferredLink(host string, index int, pageURL string) DownloadLink {
	return DownloadLink{
		Host:    host,
		URL:     ScriptIndexPrefix + strconv.Itoa(index),
		PageURL: pageURL,
	}
}

// IsDeferred reports whether the link still needs script-driven resolution
func (l DownloadLink) IsDeferred() bool {
	return strings.HasPrefix(l.URL, ScriptIndexPrefix)
}

// ScriptIndex returns the element index carried by a deferred link
func (l DownloadLink) ScriptIndex() (int, bool) {
	if !l.IsDeferred() {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(l.URL, ScriptIndexPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (l DownloadLink) String() string {
	return fmt.Sprintf("%s <%s>", l.Host, l.URL)
}

// AttemptStatus is the lifecycle state of a DownloadAttempt
type AttemptStatus string

const (
	AttemptQueued      AttemptStatus = "queued"
	AttemptDownloading AttemptStatus = "downloading"
	AttemptCompleted   AttemptStatus = "completed"
	AttemptFailed      AttemptStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s AttemptStatus) Terminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

// ErrAttemptFinished is returned when a terminal attempt is asked to change state
var ErrAttemptFinished = errors.New("download attempt already finished")

// DownloadAttempt tracks one link being fetched for one episode
type DownloadAttempt struct {
	Link             DownloadLink
	Destination      string
	Status           AttemptStatus
	BytesTransferred int64
	TotalBytes       int64 // -1 when the server did not announce a length
	Err              error
}

// NewDownloadAttempt returns a queued attempt
func NewDownloadAttempt(link DownloadLink, dest string) *DownloadAttempt {
	return &DownloadAttempt{
		Link:        link,
		Destination: dest,
		Status:      AttemptQueued,
		TotalBytes:  -1,
	}
}

// Start moves a queued attempt to downloading
func (a *DownloadAttempt) Start(total int64) error {
	if a.Status != AttemptQueued {
		return fmt.Errorf("start from %s: %w", a.Status, ErrAttemptFinished)
	}
	a.Status = AttemptDownloading
	a.TotalBytes = total
	return nil
}

// Add accounts n transferred bytes
func (a *DownloadAttempt) Add(n int64) {
	if a.Status == AttemptDownloading {
		a.BytesTransferred += n
	}
}

// Complete marks the attempt successful
func (a *DownloadAttempt) Complete() error {
	if a.Status.Terminal() {
		return ErrAttemptFinished
	}
	a.Status = AttemptCompleted
	return nil
}

// Fail marks the attempt failed with the given cause
func (a *DownloadAttempt) Fail(err error) error {
	if a.Status.Terminal() {
		return ErrAttemptFinished
	}
	a.Status = AttemptFailed
	a.Err = err
	return nil
}
