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

// Package cli implements the csmgr command line tool.
package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/csmgr/csxact/csxutil"
)

const toolName = "csmgr"
const versionString = "1.0.0"

var ConnProfileName string
var ConnString string
var CtlrName string
var Timeout float64
var CsmgrLogLevel log.Level

var onExitCb func()

// CsSetOnExit registers a cleanup hook to run before an error exit.
func CsSetOnExit(cb func()) {
	onExitCb = cb
}

func csUsage(cmd *cobra.Command, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}

	if cmd != nil {
		fmt.Fprintf(os.Stderr, "\n")
		cmd.Help()
	}

	if onExitCb != nil {
		onExitCb()
	}
	os.Exit(1)
}

func Commands() *cobra.Command {
	logLevelStr := ""
	csCmd := &cobra.Command{
		Use:   toolName,
		Short: toolName + " measures the distance to remote BLE devices",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			CsmgrLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				csUsage(nil, err)
			}

			csxutil.SetLogLevel(CsmgrLogLevel)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	csCmd.PersistentFlags().StringVarP(&ConnProfileName, "conn", "c", "",
		"connection profile to use")

	csCmd.PersistentFlags().StringVar(&ConnString, "connstring", "",
		"connection key-value pairs to use instead of the profile's "+
			"connstring")

	csCmd.PersistentFlags().StringVar(&CtlrName, "ctlr", "default",
		"name of the BLE controller to use")

	csCmd.PersistentFlags().Float64VarP(&Timeout, "timeout", "t", 10.0,
		"timeout in seconds (partial seconds allowed)")

	csCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l",
		"info", "log level to use")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + toolName + " version number",
		Example: "  " + toolName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", toolName, versionString)
		},
	}
	csCmd.AddCommand(versCmd)

	csCmd.AddCommand(connProfileCmd())
	csCmd.AddCommand(distanceCmd())
	csCmd.AddCommand(rangingCmd())
	csCmd.AddCommand(interactiveCmd())

	return csCmd
}
