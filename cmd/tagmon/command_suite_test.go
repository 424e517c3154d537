package main

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
	"github.com/srg/tagmon/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "a4:34:f1:00:00:01"
	TestDeviceAddress2 = "a4:34:f1:00:00:02"
)

// CommandTestSuite swaps the BLE adapter for a scriptable fake. All cmd/tagmon
// suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Adapter *testutils.FakeAdapter

	originalFactory func(*logrus.Logger) device.Adapter
	configPath      string
}

func (s *CommandTestSuite) SetupTest() {
	s.Adapter = testutils.NewFakeAdapter()
	s.originalFactory = adapterFactory
	adapterFactory = func(*logrus.Logger) device.Adapter { return s.Adapter }
	// keep the user's real config out of the tests
	s.configPath = filepath.Join(s.T().TempDir(), "config.yaml")
}

func (s *CommandTestSuite) TearDownTest() {
	adapterFactory = s.originalFactory
}

// ExecuteCommand runs tagmon with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", s.configPath}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// RunningCommand is a command executing in the background.
type RunningCommand struct {
	Stdout *testutils.LogBuffer
	Stderr *testutils.LogBuffer
	Done   chan error
	Cancel context.CancelFunc
}

// StartCommand runs tagmon with args until it returns or Cancel is called.
func (s *CommandTestSuite) StartCommand(args ...string) *RunningCommand {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RunningCommand{
		Stdout: &testutils.LogBuffer{},
		Stderr: &testutils.LogBuffer{},
		Done:   make(chan error, 1),
		Cancel: cancel,
	}
	root := newRootCmd()
	root.SetOut(rc.Stdout)
	root.SetErr(rc.Stderr)
	root.SetArgs(append([]string{"--config", s.configPath}, args...))
	go func() { rc.Done <- root.ExecuteContext(ctx) }()
	s.T().Cleanup(cancel)
	return rc
}

// Wait returns the command's error, failing the test if it does not finish in time.
func (s *CommandTestSuite) Wait(rc *RunningCommand) error {
	select {
	case err := <-rc.Done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("command did not finish")
		return nil
	}
}

// AdvertiseOnScan makes every StartScan report the given peripherals.
func (s *CommandTestSuite) AdvertiseOnScan(results ...device.ScanResult) {
	s.Adapter.OnCall("StartScan", func(mock.Arguments) {
		go func() {
			for _, r := range results {
				s.Adapter.Emit(r)
			}
		}()
	})
}

// SensorTag returns a scan result for a SensorTag at address.
func SensorTag(address string) device.ScanResult {
	return device.ScanResult{Address: address, Name: sensor.TargetName, RSSI: -58}
}

// ScriptPeripheral makes the fake behave like a reachable SensorTag: connects
// succeed, discovery returns the full profile followed by notifications, and
// every write completes.
func (s *CommandTestSuite) ScriptPeripheral(notifications ...device.CharacteristicChanged) {
	s.Adapter.OnCall("Connect", func(mock.Arguments) {
		go s.Adapter.Emit(device.LinkStateChanged{Connected: true})
	})
	s.Adapter.OnCall("DiscoverServices", func(mock.Arguments) {
		go func() {
			s.Adapter.Emit(device.ServicesDiscovered{Services: testutils.SensorTagProfile()})
			for _, n := range notifications {
				s.Adapter.Emit(n)
			}
		}()
	})
	complete := func(kind device.WriteKind) func(mock.Arguments) {
		return func(args mock.Arguments) {
			go s.Adapter.Emit(device.WriteCompleted{Kind: kind, Handle: args.Get(0).(device.Handle)})
		}
	}
	s.Adapter.OnCall("WriteCharacteristic", complete(device.CharacteristicWrite))
	s.Adapter.OnCall("WriteDescriptor", complete(device.DescriptorWrite))
	s.Adapter.OnCall("Disconnect", func(mock.Arguments) {
		go s.Adapter.Emit(device.LinkStateChanged{Connected: false})
	})
}
