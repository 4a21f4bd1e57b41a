package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/printlane/collab/collab"
)

const CollabCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collaboration session control.

The default urls are:
    api_url: https://api.printlane.com
    connect_url: wss://collab.printlane.com

Usage:
    collabctl create-session [--api_url=<api_url>] [--jwt=<jwt>]
        --design=<design_id>
        [--public]
    collabctl invite [--api_url=<api_url>] [--jwt=<jwt>]
        --session=<session_id>
        --user_auth=<user_auth>
        [--edit] [--comment] [--export]
    collabctl remove-user [--api_url=<api_url>] [--jwt=<jwt>]
        --session=<session_id>
        --user=<user_id>
    collabctl join [--connect_url=<connect_url>] [--api_url=<api_url>] [--jwt=<jwt>]
        --session=<session_id>
    collabctl send [--connect_url=<connect_url>] [--api_url=<api_url>] [--jwt=<jwt>]
        --session=<session_id>
        --kind=<kind>
        [--layer=<layer_id>]
        [<payload>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --jwt=<jwt>                  Your storefront JWT. Prompted if not set.
    --design=<design_id>         Design document to share.
    --public                     Anyone with the link can view.
    --session=<session_id>
    --user_auth=<user_auth>      Invitee contact identifier.
    --edit                       Grant edit permission.
    --comment                    Grant comment permission.
    --export                     Grant export permission.
    --user=<user_id>
    --kind=<kind>                One of add, update, delete, move, transform.
    --layer=<layer_id>
    <payload>                    Operation payload json. Read from stdin if not set.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	if createSession_, _ := opts.Bool("create-session"); createSession_ {
		createSession(opts)
	} else if invite_, _ := opts.Bool("invite"); invite_ {
		invite(opts)
	} else if removeUser_, _ := opts.Bool("remove-user"); removeUser_ {
		removeUser(opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		join(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return "https://api.printlane.com"
}

func connectUrl(opts docopt.Opts) string {
	if connectUrl, err := opts.String("--connect_url"); err == nil && connectUrl != "" {
		return connectUrl
	}
	return "wss://collab.printlane.com"
}

func jwt(opts docopt.Opts) string {
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		return jwt
	}
	fmt.Fprint(os.Stderr, "credential token: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		panic(err)
	}
	return string(jwtBytes)
}

func sessionId(opts docopt.Opts) collab.Id {
	sessionIdStr, err := opts.String("--session")
	if err != nil {
		panic(err)
	}
	sessionId, err := collab.ParseId(sessionIdStr)
	if err != nil {
		panic(err)
	}
	return sessionId
}

func createSession(opts docopt.Opts) {
	designId, _ := opts.String("--design")
	public, _ := opts.Bool("--public")

	api := collab.NewCollabApi(apiUrl(opts))
	api.SetByJwt(jwt(opts))

	result, err := api.CreateSessionSync(&collab.CreateSessionArgs{
		DesignId: designId,
		Public:   public,
	})
	if err != nil {
		Err.Fatalf("create session error = %s", err)
	}
	if result.Error != nil {
		Err.Fatalf("create session error = %s", result.Error.Message)
	}
	Out.Printf("%s", result.Session.SessionId)
}

func invite(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")
	edit, _ := opts.Bool("--edit")
	comment, _ := opts.Bool("--comment")
	export, _ := opts.Bool("--export")

	api := collab.NewCollabApi(apiUrl(opts))
	api.SetByJwt(jwt(opts))

	result, err := api.InviteUserSync(&collab.InviteUserArgs{
		SessionId: sessionId(opts),
		UserAuth:  userAuth,
		Permissions: &collab.Permissions{
			Edit:    edit,
			Comment: comment,
			Export:  export,
		},
	})
	if err != nil {
		Err.Fatalf("invite error = %s", err)
	}
	if result.Error != nil {
		Err.Fatalf("invite error = %s", result.Error.Message)
	}
	Out.Printf("invited %s", result.User.UserId)
}

func removeUser(opts docopt.Opts) {
	userIdStr, _ := opts.String("--user")
	userId, err := collab.ParseId(userIdStr)
	if err != nil {
		panic(err)
	}

	api := collab.NewCollabApi(apiUrl(opts))
	api.SetByJwt(jwt(opts))

	result, err := api.RemoveUserSync(&collab.RemoveUserArgs{
		SessionId: sessionId(opts),
		UserId:    userId,
	})
	if err != nil {
		Err.Fatalf("remove user error = %s", err)
	}
	if result.Error != nil {
		Err.Fatalf("remove user error = %s", result.Error.Message)
	}
	Out.Printf("removed %s", userId)
}

func join(opts docopt.Opts) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := collab.NewClientWithDefaults(ctx, connectUrl(opts), apiUrl(opts))
	defer client.Close()

	client.AddStateCallback(func(state collab.SessionState) {
		Out.Printf("state %s", state)
	})
	client.AddSnapshotCallback(func(snapshot *collab.Snapshot) {
		Out.Printf("snapshot v%d users=%d", snapshot.Version, len(snapshot.Users))
	})
	client.AddOperationCallback(func(operation *collab.Operation) {
		Out.Printf("operation %s %s v%d", operation.Kind, operation.OperationId, operation.Version)
	})
	client.AddPresenceCallback(func(event *collab.PresenceEvent) {
		Out.Printf("presence %s %s", event.Type, event.UserId)
	})
	client.AddCommentCallback(func(event *collab.CommentEvent) {
		if event.Comment != nil {
			Out.Printf("comment %s %s", event.Type, event.Comment.CommentId)
		} else {
			Out.Printf("comment %s %s", event.Type, event.CommentId)
		}
	})
	client.AddErrorCallback(func(err error) {
		Err.Printf("error = %s", err)
	})

	if err := client.JoinSession(ctx, sessionId(opts), jwt(opts)); err != nil {
		Err.Fatalf("join error = %s", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	client.LeaveSession()
}

func send(opts docopt.Opts) {
	kindStr, _ := opts.String("--kind")
	layerId, _ := opts.String("--layer")

	var payload json.RawMessage
	if payloadStr, err := opts.String("<payload>"); err == nil && payloadStr != "" {
		payload = json.RawMessage(payloadStr)
	} else {
		payloadBytes, err := io.ReadAll(os.Stdin)
		if err != nil {
			Err.Fatalf("read payload error = %s", err)
		}
		payload = json.RawMessage(payloadBytes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := collab.NewClientWithDefaults(ctx, connectUrl(opts), apiUrl(opts))
	defer client.Close()

	if err := client.JoinSession(ctx, sessionId(opts), jwt(opts)); err != nil {
		Err.Fatalf("join error = %s", err)
	}

	operation := collab.NewOperation(collab.OperationKind(kindStr), layerId, payload)
	client.SendOperation(operation)

	// give the channel a beat to publish before teardown
	for i := 0; i < 50 && 0 < client.PendingOperationCount(); i += 1 {
		time.Sleep(100 * time.Millisecond)
	}
	Out.Printf("sent %s v%d", operation.OperationId, operation.Version)
	client.LeaveSession()
}
