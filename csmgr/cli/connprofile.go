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

	"github.com/spf13/cobra"

	"mynewt.apache.org/csmgr/csmgr/config"
)

func connProfileAddCmd(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		csUsage(cmd, fmt.Errorf("need a profile name and a connstring"))
	}

	// Ensure the connstring parses before persisting it.
	if _, err := config.ParseBllConnString(args[1]); err != nil {
		csUsage(nil, err)
	}

	cp := &config.ConnProfile{
		Name:       args[0],
		ConnString: args[1],
	}

	if err := config.GlobalConnProfileMgr().AddConnProfile(cp); err != nil {
		csUsage(nil, err)
	}

	fmt.Printf("Connection profile %s successfully added\n", cp.Name)
}

func connProfileShowCmd(cmd *cobra.Command, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	found := false
	for _, cp := range config.GlobalConnProfileMgr().GetConnProfileList() {
		if name == "" || cp.Name == name {
			fmt.Printf("  %s: %s\n", cp.Name, cp.ConnString)
			found = true
		}
	}

	if !found {
		if name == "" {
			fmt.Printf("No connection profiles found\n")
		} else {
			fmt.Printf("No connection profile named %s found\n", name)
		}
	}
}

func connProfileDelCmd(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		csUsage(cmd, fmt.Errorf("need a profile name"))
	}

	if err := config.GlobalConnProfileMgr().DeleteConnProfile(
		args[0]); err != nil {

		csUsage(nil, err)
	}

	fmt.Printf("Connection profile %s successfully deleted\n", args[0])
}

func connProfileCmd() *cobra.Command {
	cpCmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage " + toolName + " connection profiles",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <conn_profile> <connstring>",
		Short: "Add a " + toolName + " connection profile",
		Example: "  " + toolName +
			" conn add mynode peer_addr=0b:0a:0b:0a:0b:0a",
		Run: connProfileAddCmd,
	}
	cpCmd.AddCommand(addCmd)

	deleCmd := &cobra.Command{
		Use:   "delete <conn_profile>",
		Short: "Delete a " + toolName + " connection profile",
		Run:   connProfileDelCmd,
	}
	cpCmd.AddCommand(deleCmd)

	showCmd := &cobra.Command{
		Use:   "show [conn_profile]",
		Short: "Show " + toolName + " connection profiles",
		Run:   connProfileShowCmd,
	}
	cpCmd.AddCommand(showCmd)

	return cpCmd
}
