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
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/csmgr/csmgr/bll"
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/csxutil"
	"mynewt.apache.org/csmgr/csxact/dm"
	"mynewt.apache.org/csmgr/csxact/task"
)

var distanceIntervalMs int
var distanceCount int

type distanceResult struct {
	centimeters float64
	confidence  int8
	timestampMs int64
}

// distanceListener forwards manager callbacks onto channels the command
// loop selects on.  Callbacks fire from the manager's task queue and
// must not block, hence the buffered channels and drop-on-full sends.
type distanceListener struct {
	startedCh chan csdefs.Method
	stoppedCh chan csdefs.Reason
	resultCh  chan distanceResult
}

func newDistanceListener() *distanceListener {
	return &distanceListener{
		startedCh: make(chan csdefs.Method, 1),
		stoppedCh: make(chan csdefs.Reason, 1),
		resultCh:  make(chan distanceResult, 16),
	}
}

func (dl *distanceListener) OnStarted(addr csdefs.BleAddr,
	method csdefs.Method) {

	select {
	case dl.startedCh <- method:
	default:
	}
}

func (dl *distanceListener) OnStopped(addr csdefs.BleAddr,
	reason csdefs.Reason, method csdefs.Method) {

	select {
	case dl.stoppedCh <- reason:
	default:
	}
}

func (dl *distanceListener) OnResult(addr csdefs.BleAddr,
	centimeters float64, confidence int8, timestampMs int64,
	method csdefs.Method) {

	select {
	case dl.resultCh <- distanceResult{centimeters, confidence,
		timestampMs}:
	default:
		log.Debugf("dropping distance result; consumer is behind")
	}
}

func (dl *distanceListener) OnRasFragmentReady(addr csdefs.BleAddr,
	counter uint16, last bool, frame []byte) {
}

func (dl *distanceListener) OnVendorSpecificCharacteristics(
	addr csdefs.BleAddr, chrs []cshal.VendorSpecificCharacteristic) {
}

func (dl *distanceListener) OnVendorSpecificReply(addr csdefs.BleAddr,
	reply []cshal.VendorSpecificCharacteristic) {

	// Vendor replies carry CBOR maps; show them at debug level.
	for _, chr := range reply {
		m, err := csxutil.DecodeCborMap(chr.Value)
		if err != nil {
			log.Debugf("undecodable vendor reply %x", chr.Uuid)
			continue
		}

		log.Debugf("vendor reply %x: %+v", chr.Uuid, m)
	}
}

func (dl *distanceListener) OnVendorSpecificReplyComplete(
	addr csdefs.BleAddr, success bool) {
}

func distanceRunCmd(cmd *cobra.Command, args []string) {
	if distanceIntervalMs <= 0 {
		csUsage(cmd, fmt.Errorf("interval must be positive"))
	}

	cln, err := GetRasClient()
	if err != nil {
		csUsage(nil, err)
	}

	addr, err := csdefs.ParseBleAddr(cln.PeerAddr())
	if err != nil {
		csUsage(nil, err)
	}

	ctlr := bll.NewBllController(cln)
	mgr := dm.NewManager(ctlr, nil, task.SysClock())
	ctlr.SetManager(mgr)

	dl := newDistanceListener()
	mgr.SetCallbacks(dl)

	cln.OnDisconnect = func() {
		mgr.HandleDisconnect(bll.GattConnHandle)
	}

	// The GATT transport has no channel sounding commands; the local
	// capability read is expected to fail and the RSSI fallback takes
	// over.
	if err := mgr.Start(); err != nil && !csxutil.IsXport(err) {
		csUsage(nil, err)
	}
	defer mgr.Stop()

	if err := mgr.StartMeasurement(addr, distanceIntervalMs,
		csdefs.METHOD_AUTO); err != nil {

		csUsage(nil, err)
	}

	select {
	case method := <-dl.startedCh:
		fmt.Printf("Measuring distance to %s (%s)\n", addr.String(),
			csdefs.MethodToString(method))
	case reason := <-dl.stoppedCh:
		csUsage(nil, fmt.Errorf("measurement failed to start: %s",
			csdefs.ReasonToString(reason)))
	}

	received := 0
	for distanceCount == 0 || received < distanceCount {
		select {
		case r := <-dl.resultCh:
			received++
			fmt.Printf("distance: %.0f cm  (confidence %d%%)\n",
				r.centimeters, r.confidence)

		case reason := <-dl.stoppedCh:
			fmt.Printf("Measurement stopped: %s\n",
				csdefs.ReasonToString(reason))
			return
		}
	}

	if err := mgr.StopMeasurement(addr, csdefs.METHOD_AUTO); err != nil {
		log.Debugf("error stopping measurement: %s", err.Error())
	}
}

func distanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Measure the distance to the configured peer",
		Example: "  " + toolName +
			" -c mynode distance --interval 1000 --count 10",
		Run: distanceRunCmd,
	}

	cmd.Flags().IntVar(&distanceIntervalMs, "interval", 1000,
		"measurement interval, in milliseconds")
	cmd.Flags().IntVar(&distanceCount, "count", 0,
		"number of results to collect before exiting (0 = no limit)")

	return cmd
}
