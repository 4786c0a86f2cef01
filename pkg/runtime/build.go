package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/renderlite/renderlite/pkg/errdefs"
)

// BuildImage builds contextDir (which must contain a Dockerfile at its root)
// into a local image tagged imageTag, streaming every progress line the
// daemon emits into logs. The caller bounds the build with ctx.
func (r *DockerRuntime) BuildImage(ctx context.Context, contextDir, imageTag string, logs io.Writer) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to tar build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := r.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{imageTag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return wrapBuildErr(ctx, err, imageTag)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return wrapBuildErr(ctx, err, imageTag)
		}
		if msg.Error != nil {
			return fmt.Errorf("image build failed: %s", msg.Error.Message)
		}
		writeBuildLine(logs, msg)
	}

	r.logger.Info().Str("image", imageTag).Msg("Image built")
	return nil
}

// writeBuildLine forwards one daemon progress message to the deployment log.
// Step output arrives in Stream; layer pulls report through Status.
func writeBuildLine(logs io.Writer, msg jsonmessage.JSONMessage) {
	if logs == nil {
		return
	}
	switch {
	case msg.Stream != "":
		io.WriteString(logs, msg.Stream)
	case msg.Status != "":
		line := msg.Status
		if msg.ID != "" {
			line = msg.ID + ": " + line
		}
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		io.WriteString(logs, line)
	}
}

func wrapBuildErr(ctx context.Context, err error, imageTag string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.Timeout(fmt.Sprintf("image build for %s timed out", imageTag), err)
	}
	return errdefs.RuntimeUnavailable(fmt.Sprintf("image build for %s failed", imageTag), err)
}
