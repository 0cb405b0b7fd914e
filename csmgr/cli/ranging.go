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
	"math/bits"
	"sort"

	"github.com/fatih/structs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/ras"
)

var watchRoleStr string
var watchSounding bool
var watchCount int

// printStruct dumps a header struct's fields in sorted order.
func printStruct(title string, s interface{}) {
	fmt.Printf("%s:\n", title)

	m := structs.Map(s)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("    %-22s %v\n", k, m[k])
	}
}

func printStep(idx int, sd *csparse.StepData) {
	switch {
	case sd.Mode0 != nil:
		fmt.Printf("    step %2d: mode 0  quality=%d rssi=%d antenna=%d\n",
			idx, sd.Mode0.PacketQuality, sd.Mode0.PacketRssi,
			sd.Mode0.PacketAntenna)

	case sd.Mode1 != nil:
		fmt.Printf("    step %2d: mode 1  quality=%d nadm=%d toa_tod=%d\n",
			idx, sd.Mode1.PacketQuality, sd.Mode1.PacketNadm,
			int16(sd.Mode1.RttToaTod))

	case sd.Mode2 != nil:
		fmt.Printf("    step %2d: mode 2  perm=%d tones=%d\n",
			idx, sd.Mode2.AntennaPermutationIndex, len(sd.Mode2.Tones))

	case sd.Mode3 != nil:
		fmt.Printf("    step %2d: mode 3  perm=%d tones=%d toa_tod=%d\n",
			idx, sd.Mode3.AntennaPermutationIndex, len(sd.Mode3.Tones),
			int16(sd.Mode3.RttToaTod))

	default:
		fmt.Printf("    step %2d: mode %d  (no data)\n", idx, sd.Mode)
	}
}

// decodeRangingStream pretty-prints one reassembled procedure stream.
// The stream carries the sender's step data, so the role is the peer's.
func decodeRangingStream(stream []byte, role csdefs.CsRole,
	sounding bool) {

	r := csparse.NewReader(stream)

	hdr, err := ras.DecodeRangingHeader(r)
	if err != nil {
		log.Warnf("malformed ranging stream: %s", err.Error())
		return
	}
	printStruct("ranging header", hdr)

	numPaths := bits.OnesCount8(hdr.AntennaPathMask)

	for r.Len() > 0 {
		subHdr, err := ras.DecodeSubeventHeader(r)
		if err != nil {
			log.Warnf("malformed subevent header: %s", err.Error())
			return
		}
		printStruct("subevent header", subHdr)

		for i := 0; i < int(subHdr.NumStepsReported); i++ {
			modeByte, err := r.ReadU8()
			if err != nil {
				log.Warnf("truncated step data: %s", err.Error())
				return
			}

			mode := modeByte & csparse.STEP_MODE_MASK
			if modeByte&csparse.STEP_ABORTED_BIT != 0 {
				fmt.Printf("    step %2d: mode %d  (aborted)\n", i, mode)
				continue
			}

			sd, err := csparse.ParseStep(r, mode, role, numPaths, sounding)
			if err != nil {
				log.Warnf("invalid mode %d step: %s", mode, err.Error())
				return
			}

			printStep(i, sd)
		}
	}
}

func watchRunCmd(cmd *cobra.Command, args []string) {
	role, err := csdefs.CsRoleFromString(watchRoleStr)
	if err != nil {
		csUsage(cmd, err)
	}

	cln, err := GetRasClient()
	if err != nil {
		csUsage(nil, err)
	}

	frameCh := make(chan []byte, 32)
	discCh := make(chan struct{})

	cln.OnFrame = func(frame []byte) {
		select {
		case frameCh <- frame:
		default:
			log.Debugf("dropping ranging data frame; consumer is behind")
		}
	}
	cln.OnDisconnect = func() {
		close(discCh)
	}

	fmt.Printf("Watching ranging data from %s\n", cln.PeerAddr())

	reasm := ras.NewReassembler()
	streams := 0

	for watchCount == 0 || streams < watchCount {
		select {
		case frame := <-frameCh:
			stream, err := reasm.Rx(frame)
			if err != nil {
				log.Warnf("bad ranging data segment: %s", err.Error())
				reasm.Reset()
				continue
			}
			if stream == nil {
				continue
			}

			decodeRangingStream(stream, role, watchSounding)
			streams++

		case <-discCh:
			fmt.Printf("Peer disconnected\n")
			return
		}
	}
}

func rangingCmd() *cobra.Command {
	rCmd := &cobra.Command{
		Use:   "ranging",
		Short: "Inspect the peer's ranging data protocol",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Decode and display the peer's ranging data notifications",
		Example: "  " + toolName +
			" -c mynode ranging watch --count 3",
		Run: watchRunCmd,
	}

	watchCmd.Flags().StringVar(&watchRoleStr, "role", "reflector",
		"channel sounding role of the peer (initiator or reflector)")
	watchCmd.Flags().BoolVar(&watchSounding, "sounding", false,
		"peer steps carry sounding sequence measurements")
	watchCmd.Flags().IntVar(&watchCount, "count", 0,
		"number of procedure streams to decode before exiting "+
			"(0 = no limit)")

	rCmd.AddCommand(watchCmd)

	return rCmd
}
