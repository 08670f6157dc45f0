package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/clients/register", s.handleRegister).Methods(http.MethodPost)

	v1.Handle("/messages/send", s.clientAuth(http.HandlerFunc(s.handleSend))).Methods(http.MethodPost)
	v1.Handle("/messages/poll", s.clientAuth(http.HandlerFunc(s.handlePoll))).Methods(http.MethodGet)
	v1.Handle("/messages/ack", s.clientAuth(http.HandlerFunc(s.handleAck))).Methods(http.MethodPost)

	v1.Handle("/messages/publish", s.privilegedAuth(http.HandlerFunc(s.handlePublish))).Methods(http.MethodPost)
	v1.Handle("/operators/clients", s.operatorAuth(http.HandlerFunc(s.handleListClients))).Methods(http.MethodGet)
	v1.Handle("/operators/clients/{id}/messages", s.operatorAuth(http.HandlerFunc(s.handleClientMessages))).Methods(http.MethodGet)

	return r
}
