// murmur is a push-to-dictate tool: hit the hotkey, speak, and the
// transcript is typed live into whatever app holds focus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"murmur/audio"
	"murmur/backend"
	"murmur/beep"
	"murmur/config"
	"murmur/encoder"
	"murmur/hotkey"
	"murmur/log"
	"murmur/session"
	"murmur/shutdown"
	"murmur/typing"
)

var version = "dev"

func main() {
	run()
}

func run() {
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	langFlag := flag.String("lang", "", "Language code for transcription (e.g., en, es, fr); overrides MURMUR_LANGUAGE")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flushFlag := flag.Duration("flush-timeout", 0, "bound on the finalize-time flush (overrides MURMUR_FLUSH_TIMEOUT)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run hotkey diagnostics and exit")
	quietFlag := flag.Bool("quiet", false, "Disable audio cues")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("murmur %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		msg, err := hotkey.Diagnose()
		if err != nil {
			fmt.Printf("hotkey: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("hotkey: %s\n", msg)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *langFlag != "" {
		cfg.Language = *langFlag
	}
	if *flushFlag > 0 {
		cfg.FlushTimeout = *flushFlag
	}
	if cfg.BackendName() == "" {
		fmt.Fprintln(os.Stderr, "Error: set DEEPGRAM_API_KEY or GROQ_API_KEY")
		os.Exit(1)
	}

	logDir := *logPathFlag
	if logDir == "" {
		logDir = cfg.LogDir
	}
	logPath, err := log.ResolveDir(logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *quietFlag {
		beep.Disable()
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := audioCtx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Fprintf(os.Stderr, "Warning: device %q not found, using default\n", *deviceFlag)
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(audioCtx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v, using default\n", err)
			selectedDevice = nil
		}
	}
	if selectedDevice != nil && audio.IsBluetooth(selectedDevice.Name) {
		fmt.Println("Note: bluetooth microphones add latency and can degrade capture quality.")
	}

	captureConfig := audio.CaptureConfig{
		SampleRate:  encoder.SampleRate,
		Channels:    encoder.Channels,
		Gain:        audio.DefaultGain,
		SourceBoost: audio.DefaultSourceBoost,
	}

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Fprintf(os.Stderr, "Error registering hotkey: %v\n", err)
		os.Exit(1)
	}
	defer hk.Unregister()

	go beep.Init()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	fmt.Printf("murmur %s ready: %s backend, Ctrl+Shift+Space to dictate\n", version, cfg.BackendName())
	log.Infof("ready backend=%s language=%s device=%s", cfg.BackendName(), cfg.Language, deviceName(selectedDevice))

	for {
		select {
		case <-sigChan:
			log.Info("shutdown")
			return
		case <-hk.Cancel():
			// No session active; Escape is someone else's business.
		case <-hk.Toggle():
			runDictation(audioCtx, captureConfig, selectedDevice, cfg, hk, sigChan)
		}
	}
}

// runDictation owns one session from hotkey press to finalize. It
// returns once the transcript is settled in the focused app.
func runDictation(audioCtx audio.Context, captureConfig audio.CaptureConfig,
	device *audio.DeviceInfo, cfg config.Settings, hk hotkey.Hotkey, sigChan chan os.Signal) {

	b, err := backend.New(cfg.DeepgramAPIKey, cfg.GroqAPIKey)
	if err != nil {
		log.Errorf("backend init: %v", err)
		beep.PlayError()
		return
	}

	capture, err := audioCtx.NewCapture(device, captureConfig)
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		fmt.Fprintf(os.Stderr, "Microphone error: %v\n", err)
		beep.PlayError()
		return
	}
	defer capture.Close()

	vp, err := newVADProcessor()
	if err != nil {
		log.Errorf("VAD init: %v", err)
		beep.PlayError()
		return
	}

	sess := session.New(session.Config{
		Backend:      b,
		Capture:      capture,
		Injector:     typing.NewKeyboard(),
		Language:     cfg.Language,
		FlushTimeout: cfg.FlushTimeout,
		OnAudio:      vp.Process,
		OnDone: func(r session.Result) {
			if r.Text == "" {
				log.Info("no_speech")
			}
		},
		OnError: func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		},
	})

	log.Info("recording_device: " + capture.DeviceName())
	if err := sess.Start(context.Background()); err != nil {
		beep.PlayError()
		return
	}
	beep.PlayListening()

	mon := newSilenceMonitor()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			// Backend ended the stream or a fatal error finalized it.
			finishCue(sess)
			return
		case <-hk.Toggle():
			log.Info("hotkey_stop")
			sess.Stop()
			finishCue(sess)
			return
		case <-hk.Cancel():
			log.Info("escape_stop")
			sess.Stop()
			finishCue(sess)
			return
		case <-sigChan:
			log.Info("shutdown_during_session")
			sess.Stop()
			log.Close()
			os.Exit(0)
		case <-ticker.C:
			switch mon.Tick(vp.HasSpeechTick()) {
			case SilenceWarn, SilenceRepeat:
				log.Info("no_voice_warning")
				beep.PlayError()
			case SilenceWarnClear:
				log.Info("voice_resumed")
			case SilenceAutoClose:
				log.Info("silence_auto_close")
				sess.Stop()
				finishCue(sess)
				return
			}
		}
	}
}

func finishCue(sess *session.Session) {
	<-sess.Done()
	if sess.State() == session.Error {
		beep.PlayError()
		return
	}
	beep.PlayDone()
}

func deviceName(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	return dev.Name
}
