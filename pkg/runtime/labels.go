package runtime

import (
	"fmt"
	"strings"
)

// Platform-private labels. The reconciler recognizes its own containers by
// LabelManaged; LabelSubdomain ties a container back to its service.
const (
	LabelManaged   = "renderlite.managed"
	LabelSubdomain = "renderlite.subdomain"
)

// LabelOptions feeds RoutingLabels.
type LabelOptions struct {
	// RouterName names the Traefik router and service for this container.
	RouterName string
	// Subdomain plus BaseDomain form the auto-assigned hostname.
	Subdomain  string
	BaseDomain string
	// Network is the managed network Traefik should dial the container on.
	Network string
	// ContainerPort is the upstream port inside the container.
	ContainerPort int
	// Domains lists verified custom hostnames; each gets its own router
	// sharing the same upstream.
	Domains []string
	// EnableTLS switches routers to the websecure entrypoint with the
	// letsencrypt resolver.
	EnableTLS bool
}

// RoutingLabels builds the full label set for a platform container: the
// Traefik opt-in, one router for the subdomain hostname, one router per
// verified custom domain, a single load-balancer target they all share, and
// the platform-private labels.
func RoutingLabels(opts LabelOptions) map[string]string {
	name := sanitizeRouterName(opts.RouterName)

	labels := map[string]string{
		"traefik.enable":         "true",
		"traefik.docker.network": opts.Network,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", name): fmt.Sprintf("%d", opts.ContainerPort),
		LabelManaged:   "true",
		LabelSubdomain: opts.Subdomain,
	}

	addRouter(labels, name, opts.Subdomain+"."+opts.BaseDomain, opts.EnableTLS)
	for i, hostname := range opts.Domains {
		addRouter(labels, fmt.Sprintf("%s-domain-%d", name, i), hostname, opts.EnableTLS)
	}
	return labels
}

func addRouter(labels map[string]string, router, host string, tls bool) {
	labels[fmt.Sprintf("traefik.http.routers.%s.rule", router)] = fmt.Sprintf("Host(`%s`)", host)
	if tls {
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", router)] = "websecure"
		labels[fmt.Sprintf("traefik.http.routers.%s.tls", router)] = "true"
		labels[fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", router)] = "letsencrypt"
	} else {
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", router)] = "web"
	}
}

// sanitizeRouterName keeps router names within Traefik's allowed charset.
func sanitizeRouterName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
