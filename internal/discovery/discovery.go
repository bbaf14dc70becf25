package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var (
	// ErrServiceNotFound is returned when the named Service does not exist.
	ErrServiceNotFound = errors.New("service not found")
	// ErrNoClusterIP is returned for headless Services or Services without an address.
	ErrNoClusterIP = errors.New("service has no cluster IP")
	// ErrPortNotExposed is returned when no Service port matches the request.
	ErrPortNotExposed = errors.New("service does not expose a matching port")
)

// ServiceResolver maps Service names in one namespace to their ClusterIP and port.
type ServiceResolver struct {
	client    kubernetes.Interface
	namespace string
	logger    *slog.Logger
}

// NewServiceResolver validates its inputs and returns a resolver.
func NewServiceResolver(client kubernetes.Interface, namespace string, logger *slog.Logger) (*ServiceResolver, error) {
	if client == nil {
		return nil, fmt.Errorf("kubernetes client must be provided")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("namespace must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ServiceResolver{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}, nil
}

// Namespace returns the namespace Services are looked up in.
func (r *ServiceResolver) Namespace() string {
	return r.namespace
}

// Resolve looks up the Service and returns its ClusterIP together with the
// selected port. A zero port picks the first Service port carrying protocol;
// a non-zero port must be exposed by the Service.
func (r *ServiceResolver) Resolve(ctx context.Context, name string, port uint16, protocol string) (Target, error) {
	svc, err := r.client.CoreV1().Services(r.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Target{}, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, r.namespace, name)
		}
		return Target{}, fmt.Errorf("get service %s/%s: %w", r.namespace, name, err)
	}

	ip := clusterIP(svc)
	if !isValidClusterIP(ip) {
		r.logger.Warn("service has no usable cluster IP",
			slog.String("service", name),
			slog.String("namespace", r.namespace),
			slog.String("cluster_ip", ip),
		)
		return Target{}, fmt.Errorf("%w: %s/%s", ErrNoClusterIP, r.namespace, name)
	}

	for _, sp := range svc.Spec.Ports {
		if !protocolMatches(sp.Protocol, protocol) {
			continue
		}
		if port != 0 && sp.Port != int32(port) {
			continue
		}

		target := Target{
			ServiceName: name,
			ClusterIP:   ip,
			Port:        sp.Port,
			Protocol:    portProtocol(sp),
		}
		r.logger.Debug("resolved service target",
			slog.String("service", name),
			slog.String("namespace", r.namespace),
			slog.String("cluster_ip", ip),
			slog.Int("port", int(sp.Port)),
			slog.String("protocol", string(target.Protocol)),
		)
		return target, nil
	}

	return Target{}, fmt.Errorf("%w: %s/%s port=%d protocol=%s", ErrPortNotExposed, r.namespace, name, port, protocol)
}

func protocolMatches(p corev1.Protocol, want string) bool {
	if p == "" {
		p = corev1.ProtocolTCP
	}
	return strings.EqualFold(string(p), want)
}

func portProtocol(sp corev1.ServicePort) corev1.Protocol {
	if sp.Protocol == "" {
		return corev1.ProtocolTCP
	}
	return sp.Protocol
}

func isValidClusterIP(ip string) bool {
	if ip == "" || ip == corev1.ClusterIPNone {
		return false
	}
	return true
}

func clusterIP(svc *corev1.Service) string {
	if len(svc.Spec.ClusterIPs) > 0 {
		return svc.Spec.ClusterIPs[0]
	}
	return svc.Spec.ClusterIP
}
