package release

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MergedBranch identifies the integration branch produced for a release and
// the commit it points at.
type MergedBranch struct {
	// Branch is the integration branch name (auto/<fingerprint>).
	Branch string `json:"branch"`

	// Commit is the full commit id of the integration branch tip.
	Commit string `json:"commit"`
}

// MergeOutcome is the transient result of a merge attempt.
type MergeOutcome = Result[MergedBranch]

// BuildOutcome is the transient result of a build attempt.
type BuildOutcome struct {
	// BuildVersion is the version derived from the merged commit.
	BuildVersion Result[string]

	// ArtifactURLs lists the image:version identifiers that were built or
	// found already published.
	ArtifactURLs Result[[]string]
}

// FailedBuild returns a BuildOutcome failing both fields with reason.
func FailedBuild(reason string) BuildOutcome {
	return BuildOutcome{
		BuildVersion: Failure[string](reason),
		ArtifactURLs: Failure[[]string](reason),
	}
}

// Release is a named deployable unit composed of source branches, a target
// environment and a lifecycle state. Result fields are written only by the
// orchestration worker.
type Release struct {
	// Name is the unique key of the release.
	Name string `json:"name"`

	// State controls whether the release is orchestrated.
	State State `json:"state"`

	// Environment is the name of the target environment.
	Environment string `json:"environment"`

	// Branches lists the source branches merged into the release.
	Branches []string `json:"branches"`

	MergedBranch Result[MergedBranch] `json:"mergedBranch"`
	BuildVersion Result[string]       `json:"buildVersion"`
	ArtifactURLs Result[[]string]     `json:"artifactUrls"`
}

// Validate checks the fields the external API is responsible for.
func (r Release) Validate() error {
	if r.Name == "" {
		return errors.New("release name is required")
	}
	if !r.State.Valid() {
		return fmt.Errorf("release %q has unknown state %q", r.Name, r.State)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Release) Clone() Release {
	out := r
	out.Branches = slices.Clone(r.Branches)
	if urls, ok := r.ArtifactURLs.Value(); ok {
		out.ArtifactURLs = Success(slices.Clone(urls))
	}
	return out
}

// ApplyMerge records a merge outcome.
func (r *Release) ApplyMerge(outcome MergeOutcome) {
	r.MergedBranch = outcome
}

// ApplyBuild records a build outcome.
func (r *Release) ApplyBuild(outcome BuildOutcome) {
	r.BuildVersion = outcome.BuildVersion
	if urls, ok := outcome.ArtifactURLs.Value(); ok {
		r.ArtifactURLs = Success(slices.Clone(urls))
		return
	}
	r.ArtifactURLs = outcome.ArtifactURLs
}

// Environment is a named deployment target carrying opaque JSON configuration.
type Environment struct {
	// Name is the unique key of the environment.
	Name string `json:"name"`

	// Configuration is normalized JSON text.
	Configuration string `json:"configuration"`
}

// Event describes a successful mutation of a release in the state store.
type Event struct {
	// EventID is a unique identifier for this specific event instance.
	EventID string `json:"event_id"`

	// Timestamp is when this event was generated.
	Timestamp time.Time `json:"timestamp"`

	// Kind is the mutation type.
	Kind EventKind `json:"kind"`

	// Release is a copy of the release after the mutation, or the removed
	// release for EventDeleted.
	Release Release `json:"release"`

	// Trigger is true when the mutation came from outside the orchestration
	// worker and should start a merge and build cycle.
	Trigger bool `json:"trigger"`
}

// NewEvent builds an Event with a fresh id and timestamp.
func NewEvent(kind EventKind, rel Release, trigger bool) Event {
	return Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Release:   rel.Clone(),
		Trigger:   trigger,
	}
}
