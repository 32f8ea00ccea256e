package mocknode

import (
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"

	"github.com/dreamware/lavapool/internal/cluster"
)

// StartTest serves n on a loopback httptest server and returns a descriptor
// pointing at it. The caller closes the server.
func (n *Node) StartTest(id string) (*httptest.Server, cluster.NodeDescriptor) {
	srv := httptest.NewServer(n.Handler())
	return srv, DescriptorFor(srv.URL, id, n.Password)
}

// DescriptorFor builds a node descriptor for a base URL such as
// "http://127.0.0.1:4242".
func DescriptorFor(baseURL, id, password string) cluster.NodeDescriptor {
	u, err := url.Parse(baseURL)
	if err != nil {
		return cluster.NodeDescriptor{ID: id, Password: password}
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
	}
	port, _ := strconv.Atoi(portStr)
	return cluster.NodeDescriptor{
		ID:       id,
		Host:     host,
		Port:     port,
		Password: password,
		Secure:   u.Scheme == "https",
	}
}
