/*
Package runtime provides Docker integration for RenderLite's container lifecycle management.

The runtime package wraps the Docker daemon API to provide the operations the
deployment pipeline and reconciler need: image builds from a local context,
container create/start/stop/remove with resource caps, label-driven proxy
routing, IP lookup on the managed network, one-shot stats sampling, and
enumeration of platform-owned containers.

# Architecture

RenderLite talks to a single local Docker daemon; the reverse proxy reads the
labels this package writes:

	┌──────────────────── DOCKER RUNTIME ────────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐           │
	│  │          DockerRuntime Client                │           │
	│  │  - Socket: $DOCKER_HOST or default           │           │
	│  │  - API version: negotiated                   │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │            Image Build                       │           │
	│  │  - Tar the work directory                    │           │
	│  │  - POST /build with the image tag            │           │
	│  │  - Stream progress into the deployment log   │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │         Container Lifecycle                  │           │
	│  │  - Run: replace-by-name, create, start       │           │
	│  │  - Stop: 10s grace, tolerate stopped/gone    │           │
	│  │  - Remove: best-effort stop + force remove   │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │           Routing Labels                     │           │
	│  │  - traefik.enable / docker.network           │           │
	│  │  - router per hostname (subdomain + domains) │           │
	│  │  - one shared loadbalancer upstream          │           │
	│  │  - renderlite.managed / renderlite.subdomain │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │         Resource Caps                        │           │
	│  │  - Memory: 512 MiB hard limit                │           │
	│  │  - CPU: 0.5 cores via NanoCPUs               │           │
	│  │  - RestartPolicy: unless-stopped             │           │
	│  └──────────────────────────────────────────────┘           │
	└─────────────────────────────────────────────────────────────┘

# Naming

Container names are deterministic functions of the service subdomain:
renderlite-<subdomain> for the live container and
renderlite-<subdomain>-new for the blue/green staging container. Anyone
holding the service row can answer "what should exist" without extra state,
which is what lets the reconciler and a restarted worker converge.

# Error Classification

Daemon errors split into two kinds. A 404 means the caller's expectation
diverged from reality (the container it tracked is gone) and surfaces as an
Integrity error; the reconciler repairs these. Every other daemon failure
surfaces as RuntimeUnavailable. Stop and Remove deliberately swallow both
"already stopped" and "not found" because the desired state is already met.

# Stats

Stats issues a single non-streaming sample and reduces it the way the docker
CLI does: cpuPercent = cpu delta / system delta x cores x 100, memory percent
from usage/limit, and RX/TX summed across interfaces.
*/
package runtime
