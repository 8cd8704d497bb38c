package util

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencontainers/runtime-spec/specs-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoadSeccomp reads and validates a seccomp profile for sandbox containers.
func LoadSeccomp(path string) (*specs.LinuxSeccomp, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seccomp specs.LinuxSeccomp
	if err := json.Unmarshal(b, &seccomp); err != nil {
		return nil, err
	}
	return &seccomp, nil
}

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ProjectFilePath returns the object path of one generated file.
func ProjectFilePath(userID, projectID, name string) string {
	return fmt.Sprintf("users/%s/projects/%s/files/%s", userID, projectID, name)
}

// ProjectMetaPath returns the object path of a project's metadata blob.
func ProjectMetaPath(userID, projectID string) string {
	return fmt.Sprintf("users/%s/projects/%s/metadata.json", userID, projectID)
}

// ProjectPrefix returns the listing prefix for all of a user's projects.
func ProjectPrefix(userID string) string {
	return fmt.Sprintf("users/%s/projects/", userID)
}

// AppMetaPath returns the object path of a scaffolded app's metadata blob.
func AppMetaPath(userID, jobID string) string {
	return fmt.Sprintf("users/%s/apps/%s/metadata.json", userID, jobID)
}
