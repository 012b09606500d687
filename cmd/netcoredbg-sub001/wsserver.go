package main

import (
	"net"
	"net/http"
	"sync/atomic"

	"github.com/Samsung/netcoredbg-sub001/internal/debugger"
	"github.com/Samsung/netcoredbg-sub001/internal/protocol/dap"
)

// newWSHandler returns an http.Handler that upgrades the first request to a
// websocket and runs a DAP session over it. Only one session is served;
// subsequent connections are rejected.
func newWSHandler(ctrl *debugger.Controller) http.Handler {
	var served int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !atomic.CompareAndSwapInt32(&served, 0, 1) {
			http.Error(w, "a debug session is already being served", http.StatusConflict)
			return
		}
		conn, err := dap.Accept(w, r)
		if err != nil {
			atomic.StoreInt32(&served, 0)
			printError(err)
			return
		}
		defer conn.Close()

		adapter := dap.New(ctrl, conn, conn)
		if err := adapter.Start(); err != nil {
			printWarning(err.Error())
		}
	})
	return mux
}

// httpServe runs an http.Server over a pre-created listener, for the one
// debug session the ws transport accepts.
func httpServe(ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}
	return srv.Serve(ln)
}
