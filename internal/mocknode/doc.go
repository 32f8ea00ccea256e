// Package mocknode implements a fake audio node for tests and local
// development.
//
// A Node accepts control connections on "/", records every command a client
// sends and lets the caller push packets (stats, player updates, track
// events) or close the socket with any code. It also serves loadtracks,
// decodetrack and the route planner endpoints from an in-memory track list.
//
//	n := mocknode.New("youshallnotpass", nil)
//	srv, desc := n.StartTest("eu-1")
//	defer srv.Close()
//	conn := node.New(desc, handler, node.Options{UserID: 1})
//	conn.Connect()
//	n.WaitForClient(time.Second)
package mocknode
