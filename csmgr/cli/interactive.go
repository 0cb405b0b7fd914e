/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package cli

import (
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"mynewt.apache.org/csmgr/csmgr/bll"
	"mynewt.apache.org/csmgr/csmgr/config"
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/csxutil"
	"mynewt.apache.org/csmgr/csxact/dm"
	"mynewt.apache.org/csmgr/csxact/ras"
	"mynewt.apache.org/csmgr/csxact/task"
)

var shellMgr *dm.Manager
var shellListener *distanceListener
var shellAddr csdefs.BleAddr

// shellManager lazily builds one measurement manager for the shell
// session; subsequent commands reuse it.
func shellManager() (*dm.Manager, *distanceListener, csdefs.BleAddr,
	error) {

	if shellMgr != nil {
		return shellMgr, shellListener, shellAddr, nil
	}

	var zero csdefs.BleAddr

	cln, err := GetRasClient()
	if err != nil {
		return nil, nil, zero, err
	}

	addr, err := csdefs.ParseBleAddr(cln.PeerAddr())
	if err != nil {
		return nil, nil, zero, err
	}

	ctlr := bll.NewBllController(cln)
	mgr := dm.NewManager(ctlr, nil, task.SysClock())
	ctlr.SetManager(mgr)

	dl := newDistanceListener()
	mgr.SetCallbacks(dl)

	cln.OnDisconnect = func() {
		mgr.HandleDisconnect(bll.GattConnHandle)
	}

	if err := mgr.Start(); err != nil && !csxutil.IsXport(err) {
		return nil, nil, zero, err
	}

	shellMgr = mgr
	shellListener = dl
	shellAddr = addr

	return shellMgr, shellListener, shellAddr, nil
}

// drainListener discards results left over from a previous command.
func drainListener(dl *distanceListener) {
	for {
		select {
		case <-dl.startedCh:
		case <-dl.stoppedCh:
		case <-dl.resultCh:
		default:
			return
		}
	}
}

func shellIntArg(c *ishell.Context, idx int, dflt int) (int, bool) {
	if len(c.Args) <= idx {
		return dflt, true
	}

	v, err := cast.ToIntE(c.Args[idx])
	if err != nil {
		c.Println("invalid argument:", c.Args[idx])
		return 0, false
	}

	return v, true
}

func shellDistanceCmd(c *ishell.Context) {
	intervalMs, ok := shellIntArg(c, 0, 1000)
	if !ok {
		return
	}
	count, ok := shellIntArg(c, 1, 5)
	if !ok {
		return
	}

	mgr, dl, addr, err := shellManager()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	drainListener(dl)

	if err := mgr.StartMeasurement(addr, intervalMs,
		csdefs.METHOD_AUTO); err != nil {

		c.Println("Error:", err)
		return
	}

	select {
	case method := <-dl.startedCh:
		c.Println("measuring via", csdefs.MethodToString(method))
	case reason := <-dl.stoppedCh:
		c.Println("failed to start:", csdefs.ReasonToString(reason))
		return
	}

	for i := 0; i < count; i++ {
		select {
		case r := <-dl.resultCh:
			c.Printf("distance: %.0f cm  (confidence %d%%)\n",
				r.centimeters, r.confidence)
		case reason := <-dl.stoppedCh:
			c.Println("stopped:", csdefs.ReasonToString(reason))
			return
		}
	}

	if err := mgr.StopMeasurement(addr, csdefs.METHOD_AUTO); err != nil {
		c.Println("Error:", err)
	}
}

func shellRssiCmd(c *ishell.Context) {
	cln, err := GetRasClient()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	rssi, err := cln.ReadRssi()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	c.Println("rssi:", rssi, "dBm")
}

func shellTxPowerCmd(c *ishell.Context) {
	cln, err := GetRasClient()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	pwr, err := cln.ReadTxPower()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	c.Println("tx power:", pwr, "dBm")
}

func shellWatchCmd(c *ishell.Context) {
	count, ok := shellIntArg(c, 0, 1)
	if !ok {
		return
	}

	cln, err := GetRasClient()
	if err != nil {
		c.Println("Error:", err)
		return
	}

	frameCh := make(chan []byte, 32)
	cln.OnFrame = func(frame []byte) {
		select {
		case frameCh <- frame:
		default:
		}
	}
	defer func() {
		cln.OnFrame = nil
	}()

	reasm := ras.NewReassembler()
	for streams := 0; streams < count; {
		stream, err := reasm.Rx(<-frameCh)
		if err != nil {
			c.Println("bad segment:", err)
			reasm.Reset()
			continue
		}
		if stream == nil {
			continue
		}

		decodeRangingStream(stream, csdefs.CS_ROLE_REFLECTOR, false)
		streams++
	}
}

func shellProfilesCmd(c *ishell.Context) {
	cps := config.GlobalConnProfileMgr().GetConnProfileList()
	if len(cps) == 0 {
		c.Println("no connection profiles")
		return
	}

	for _, cp := range cps {
		c.Println(cp.Name+":", cp.ConnString)
	}
}

func startInteractive(cmd *cobra.Command, args []string) {
	shell := ishell.New()
	shell.SetPrompt("> ")

	shell.Println()
	shell.Println(" " + toolName + " shell mode:")
	shell.Println("	Connection profile: ", ConnProfileName)
	shell.Println()

	shell.AddCmd(&ishell.Cmd{
		Name: "distance",
		Help: "Measure distance: distance [interval_ms] [count]",
		Func: shellDistanceCmd,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "rssi",
		Help: "Read the peer's RSSI: rssi",
		Func: shellRssiCmd,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "txpower",
		Help: "Read the peer's advertised transmit power: txpower",
		Func: shellTxPowerCmd,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "watch",
		Help: "Decode ranging data streams: watch [count]",
		Func: shellWatchCmd,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "profiles",
		Help: "Print connection profiles: profiles",
		Func: shellProfilesCmd,
	})

	shell.Run()
	shell.Close()

	if shellMgr != nil {
		shellMgr.Stop()
		shellMgr = nil
	}
}

func interactiveCmd() *cobra.Command {
	shellCmd := &cobra.Command{
		Use:   "interactive",
		Short: "Run " + toolName + " interactive mode",
		Run:   startInteractive,
	}

	return shellCmd
}
