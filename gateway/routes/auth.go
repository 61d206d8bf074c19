package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var errAuthUnavailable = errors.New("wallet login not configured")

type challengeRequest struct {
	Account common.Address `json:"account"`
}

type loginRequest struct {
	Account   common.Address `json:"account"`
	Nonce     string         `json:"nonce"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (s *server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSONError(w, http.StatusNotFound, errAuthUnavailable)
		return
	}
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	challenge, err := s.auth.Challenge(r.Context(), req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, challenge)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSONError(w, http.StatusNotFound, errAuthUnavailable)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.auth.Login(r.Context(), req.Account, strings.TrimSpace(req.Nonce), req.Signature)
	if err != nil {
		s.logger.Debug("login rejected", "account", addressString(req.Account), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
