package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datalink-sync/internal/form"
	"datalink-sync/internal/session"
)

// sendOptions are the flags of send and preview. They apply to one run
// only and are never written to the store.
type sendOptions struct {
	data         string
	soundTheme   string
	wristApp     string
	serialDevice string
	syncLength   string
	verbose      bool

	noTime          bool
	noAlarms        bool
	noEeprom        bool
	noAppointments  bool
	noAnniversaries bool
	noPhoneNumbers  bool
	noLists         bool
	startBeep       bool
}

func parseSendFlags(name string, args []string) (*sendOptions, error) {
	var o sendOptions
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.data, "data", "", "form file (YAML or JSON) to send instead of the stored form")
	fs.StringVar(&o.soundTheme, "sound-theme", "", "sound theme file (.spc)")
	fs.StringVar(&o.wristApp, "wrist-app", "", "wrist app file (.zap)")
	fs.StringVar(&o.serialDevice, "serial-device", "", "serial device, overriding serial.port")
	fs.StringVar(&o.syncLength, "sync-length", "", "sync length 1..255, overriding the form")
	fs.BoolVar(&o.verbose, "verbose", false, "print every packet before sending")
	fs.BoolVar(&o.noTime, "no-time", false, "leave the time section out")
	fs.BoolVar(&o.noAlarms, "no-alarms", false, "leave the alarms section out")
	fs.BoolVar(&o.noEeprom, "no-eeprom", false, "leave appointments, anniversaries, phone numbers and lists out")
	fs.BoolVar(&o.noAppointments, "no-appointments", false, "send no appointments")
	fs.BoolVar(&o.noAnniversaries, "no-anniversaries", false, "send no anniversaries")
	fs.BoolVar(&o.noPhoneNumbers, "no-phone-numbers", false, "send no phone numbers")
	fs.BoolVar(&o.noLists, "no-lists", false, "send no lists")
	fs.BoolVar(&o.startBeep, "start-beep", false, "beep when the transfer starts")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%s: unexpected argument %q", name, fs.Arg(0))
	}
	return &o, nil
}

// apply adjusts st, a copy of the form, for this run.
func (o *sendOptions) apply(st *form.State) {
	if o.noTime {
		st.Includes.Time = false
	}
	if o.noAlarms {
		st.Includes.Alarms = false
	}
	if o.noEeprom {
		st.Includes.Eeprom = false
	}
	if o.noAppointments {
		st.Appointments = nil
	}
	if o.noAnniversaries {
		st.Anniversaries = nil
	}
	if o.noPhoneNumbers {
		st.PhoneNumbers = nil
	}
	if o.noLists {
		st.Lists = nil
	}
	if o.syncLength != "" {
		st.Settings.SyncLength = form.Number(o.syncLength)
	}
	if o.startBeep {
		st.Settings.StartBeep = true
	}
}

// runSend transmits the stored form, or with dryRun prints its packets.
// The stored form is left as it was.
func runSend(cfg *Config, logger *slog.Logger, args []string, dryRun bool) error {
	name := "send"
	if dryRun {
		name = "preview"
	}
	o, err := parseSendFlags(name, args)
	if err != nil {
		return err
	}

	runCfg := *cfg
	if o.serialDevice != "" {
		runCfg.Serial.Port = o.serialDevice
	}
	sess, closeStore, err := openSession(&runCfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	st := sess.Form()
	if o.data != "" {
		if st, err = form.LoadFile(o.data); err != nil {
			return err
		}
	}
	o.apply(st)

	for kind, path := range map[string]string{
		session.PayloadSoundTheme: o.soundTheme,
		session.PayloadWristApp:   o.wristApp,
	} {
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", kind, err)
		}
		if err := sess.SetPayload(kind, b); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dryRun || o.verbose {
		if err := printPreview(os.Stdout, sess.PreviewFor(ctx, st)); err != nil || dryRun {
			return err
		}
	}

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Disconnect()
	res, err := sess.SendFor(ctx, st)
	if err != nil {
		return err
	}
	fmt.Printf("sent %d packets, %d bytes in %s\n", res.Packets, res.Bytes, res.Took.Round(time.Millisecond))
	return nil
}

func printPreview(w io.Writer, p *session.Preview) error {
	for _, problem := range p.Problems {
		fmt.Fprintln(os.Stderr, "warning:", problem)
	}
	if p.EncodeError != "" {
		return fmt.Errorf("encode: %s", p.EncodeError)
	}
	for i, pkt := range p.Packets {
		fmt.Fprintf(w, "%3d  %s\n", i+1, pkt)
	}
	fmt.Fprintf(w, "%d packets, %d bytes, about %s\n", len(p.Packets), p.Bytes, p.Duration)
	return nil
}
