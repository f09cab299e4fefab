package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomlink/driver"
	"github.com/caio-sobreiro/dicomlink/events"
	"github.com/caio-sobreiro/dicomlink/tracker"
	"github.com/caio-sobreiro/dicomlink/types"
)

var (
	echoAddr    string
	echoCalling string
	echoCalled  string
	echoTimeout time.Duration
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Verify a remote SCP with a C-ECHO request",
	RunE:  runEcho,
}

func init() {
	echoCmd.Flags().StringVar(&echoAddr, "addr", "localhost:104", "SCP address (host:port)")
	echoCmd.Flags().StringVar(&echoCalling, "calling", "DICOMLINK", "calling AE title")
	echoCmd.Flags().StringVar(&echoCalled, "called", "ANY-SCP", "called AE title")
	echoCmd.Flags().DurationVar(&echoTimeout, "timeout", 30*time.Second, "response timeout")
}

// echoConsumer drives one C-ECHO exchange on top of the tracker: submit
// on acceptance, release on completion, abort on timeout.
type echoConsumer struct {
	*tracker.Tracker
	drv    *driver.Driver
	status uint16
	done   bool
}

func (c *echoConsumer) OnEvent(ev events.Event) {
	c.Tracker.OnEvent(ev)

	switch ev := ev.(type) {
	case *events.AssociationAccepted:
		req := &types.Message{
			CommandField:        types.CEchoRQ,
			MessageID:           1,
			AffectedSOPClassUID: types.VerificationSOPClass,
			CommandDataSetType:  types.DataSetAbsent,
		}
		c.Submit(req)
		if err := c.drv.SendWithTimeout(req, nil, echoTimeout); err != nil {
			c.drv.Abort(types.AbortReasonNotSpecified)
		}

	case *events.RequestCompleted:
		c.status = ev.Response().Status
		c.done = true
		c.drv.Release()

	case *events.RequestTimedOut:
		c.drv.Abort(types.AbortReasonNotSpecified)
	}
}

func runEcho(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	consumer := &echoConsumer{Tracker: tracker.New(logger)}
	drv, err := driver.Dial(echoAddr, consumer, driver.Config{
		CallingAETitle: echoCalling,
		CalledAETitle:  echoCalled,
		RequestTimeout: echoTimeout,
		Logger:         &logger,
	})
	if err != nil {
		return err
	}
	consumer.drv = drv

	if err := drv.Run(); err != nil {
		return err
	}

	if !consumer.done {
		return fmt.Errorf("no C-ECHO response, association ended in state %s", consumer.State())
	}
	if consumer.status != types.StatusSuccess {
		return fmt.Errorf("C-ECHO failed with status 0x%04X", consumer.status)
	}

	fmt.Printf("C-ECHO succeeded against %s (%s)\n", echoAddr, echoCalled)
	return nil
}
