package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// rest client for the collaborator endpoints. session create, invite and
// remove are plain request/response calls and are not part of the sync
// engine, they are exposed from the same facade for caller convenience.
type CollabApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewCollabApi(apiUrl string) *CollabApi {
	return NewCollabApiWithContext(context.Background(), apiUrl)
}

func NewCollabApiWithContext(ctx context.Context, apiUrl string) *CollabApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &CollabApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *CollabApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *CollabApi) Close() {
	self.cancel()
}

type CreateSessionCallback apiCallback[*CreateSessionResult]

type CreateSessionArgs struct {
	DesignId string `json:"design_id"`
	Public   bool   `json:"public,omitempty"`
}

type CreateSessionResult struct {
	Session *Session                  `json:"session,omitempty"`
	Error   *CreateSessionResultError `json:"error,omitempty"`
}

type CreateSessionResultError struct {
	Message string `json:"message"`
}

func (self *CollabApi) CreateSession(createSession *CreateSessionArgs, callback CreateSessionCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions", self.apiUrl),
		createSession,
		self.byJwt,
		&CreateSessionResult{},
		callback,
	)
}

func (self *CollabApi) CreateSessionSync(createSession *CreateSessionArgs) (*CreateSessionResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions", self.apiUrl),
		createSession,
		self.byJwt,
		&CreateSessionResult{},
		NewNoopApiCallback[*CreateSessionResult](),
	)
}

type InviteUserCallback apiCallback[*InviteUserResult]

type InviteUserArgs struct {
	SessionId   Id           `json:"session_id"`
	UserAuth    string       `json:"user_auth"`
	Permissions *Permissions `json:"permissions,omitempty"`
}

type InviteUserResult struct {
	User  *User                  `json:"user,omitempty"`
	Error *InviteUserResultError `json:"error,omitempty"`
}

type InviteUserResultError struct {
	Message string `json:"message"`
}

func (self *CollabApi) InviteUser(inviteUser *InviteUserArgs, callback InviteUserCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s/invite", self.apiUrl, inviteUser.SessionId),
		inviteUser,
		self.byJwt,
		&InviteUserResult{},
		callback,
	)
}

func (self *CollabApi) InviteUserSync(inviteUser *InviteUserArgs) (*InviteUserResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s/invite", self.apiUrl, inviteUser.SessionId),
		inviteUser,
		self.byJwt,
		&InviteUserResult{},
		NewNoopApiCallback[*InviteUserResult](),
	)
}

type RemoveUserCallback apiCallback[*RemoveUserResult]

type RemoveUserArgs struct {
	SessionId Id `json:"session_id"`
	UserId    Id `json:"user_id"`
}

type RemoveUserResult struct {
	Removed bool                   `json:"removed,omitempty"`
	Error   *RemoveUserResultError `json:"error,omitempty"`
}

type RemoveUserResultError struct {
	Message string `json:"message"`
}

func (self *CollabApi) RemoveUser(removeUser *RemoveUserArgs, callback RemoveUserCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s/remove", self.apiUrl, removeUser.SessionId),
		removeUser,
		self.byJwt,
		&RemoveUserResult{},
		callback,
	)
}

func (self *CollabApi) RemoveUserSync(removeUser *RemoveUserArgs) (*RemoveUserResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s/remove", self.apiUrl, removeUser.SessionId),
		removeUser,
		self.byJwt,
		&RemoveUserResult{},
		NewNoopApiCallback[*RemoveUserResult](),
	)
}

type GetSessionCallback apiCallback[*GetSessionResult]

type GetSessionResult struct {
	Session *Session `json:"session,omitempty"`
}

func (self *CollabApi) GetSession(sessionId Id, callback GetSessionCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s", self.apiUrl, sessionId),
		self.byJwt,
		&GetSessionResult{},
		callback,
	)
}

func (self *CollabApi) GetSessionSync(sessionId Id) (*GetSessionResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/collab/sessions/%s", self.apiUrl, sessionId),
		self.byJwt,
		&GetSessionResult{},
		NewNoopApiCallback[*GetSessionResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
