package comm

//go:generate mockgen -destination=mock_comm.go -package=comm github.com/roverlab/roverlink/pkg/comm Clock,Ticker

import (
	"context"
	"time"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// FeedbackFunc receives the feedback events of one robot connection.
type FeedbackFunc func(event models.FeedbackEvent)

// DisconnectFunc is notified when an established connection dies without a
// Disconnect call: socket errors, peer closes and health-check timeouts.
type DisconnectFunc func(robot identity.RobotIdentity, cause error)

// CommunicationService is the surface the application programs against.
// Implemented by Service over real sockets and by MockService for
// hardware-free development.
type CommunicationService interface {
	Connect(ctx context.Context, robot identity.RobotIdentity) error
	Disconnect(ctx context.Context, robot identity.RobotIdentity) error
	IsConnected(robot identity.RobotIdentity) bool
	SendCommand(ctx context.Context, robot identity.RobotIdentity, command string) (protocol.CommandResult, error)
	Subscribe(robot identity.RobotIdentity, fn FeedbackFunc)
	Unsubscribe(robot identity.RobotIdentity)
	Publish(event models.FeedbackEvent)
	Close(ctx context.Context) error
}
