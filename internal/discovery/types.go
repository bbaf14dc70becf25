package discovery

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// Target is the internal endpoint a Kubernetes Service resolved to.
type Target struct {
	ServiceName string
	ClusterIP   string
	Port        int32
	Protocol    corev1.Protocol
}

func (t Target) String() string {
	return fmt.Sprintf("%s -> %s:%d/%s", t.ServiceName, t.ClusterIP, t.Port, string(t.Protocol))
}
