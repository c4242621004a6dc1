//go:build linux

package firewall

// ServerRules returns the Linux iptables/ip templates for the server role: route the
// tunnel's remote address out the TUN interface and masquerade tunnel traffic behind
// the external interface.
func ServerRules() RuleSet {
	return RuleSet{
		Set: []string{
			"ip link set dev $IF_NAME up",
			"ip addr add $LOCAL_TUN_IP peer $REMOTE_TUN_IP dev $IF_NAME",
			"ip -6 addr add $LOCAL_TUN_IP6 peer $REMOTE_TUN_IP6 dev $IF_NAME",
			"sysctl -q net.ipv4.ip_forward=1",
			"sysctl -q net.ipv6.conf.all.forwarding=1",
			"iptables -t nat -A POSTROUTING -s $REMOTE_TUN_IP -o $EXT_IF_NAME -j MASQUERADE",
		},
		Unset: []string{
			"iptables -t nat -D POSTROUTING -s $REMOTE_TUN_IP -o $EXT_IF_NAME -j MASQUERADE",
			"ip addr del $LOCAL_TUN_IP peer $REMOTE_TUN_IP dev $IF_NAME",
			"ip -6 addr del $LOCAL_TUN_IP6 peer $REMOTE_TUN_IP6 dev $IF_NAME",
		},
	}
}

// ClientRules returns the Linux templates for the client role: route all traffic
// through the tunnel while leaving a host route to the server itself via the
// original gateway, so the tunnel connection itself does not loop through the tunnel.
func ClientRules() RuleSet {
	return RuleSet{
		Set: []string{
			"ip link set dev $IF_NAME up",
			"ip addr add $LOCAL_TUN_IP peer $REMOTE_TUN_IP dev $IF_NAME",
			"ip -6 addr add $LOCAL_TUN_IP6 peer $REMOTE_TUN_IP6 dev $IF_NAME",
			"ip route add $EXT_IP/32 via $EXT_GW_IP dev $EXT_IF_NAME",
			"ip route add default dev $IF_NAME metric 1",
		},
		Unset: []string{
			"ip route del default dev $IF_NAME metric 1",
			"ip route del $EXT_IP/32 via $EXT_GW_IP dev $EXT_IF_NAME",
			"ip addr del $LOCAL_TUN_IP peer $REMOTE_TUN_IP dev $IF_NAME",
			"ip -6 addr del $LOCAL_TUN_IP6 peer $REMOTE_TUN_IP6 dev $IF_NAME",
		},
	}
}
