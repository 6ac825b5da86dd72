package main

/*
#include <pwd.h>
#include <errno.h>
#include <string.h>

// nss status codes (glibc <nss.h>); redeclared here to avoid depending on
// nss.h's availability across libc variants at build time.
enum {
	NSS_STATUS_TRYAGAIN = -2,
	NSS_STATUS_UNAVAIL  = 0,
	NSS_STATUS_NOTFOUND = 1,
	NSS_STATUS_SUCCESS  = 2,
};
*/
import "C"

import (
	"log"

	"github.com/cosi-lab/authd/internal/directory"
	"github.com/cosi-lab/authd/internal/nssclient"
)

// fillPasswd packs p into result/buf. The directory stores no separate
// gid, so pw_gid is emitted equal to pw_uid, and the password field is
// the literal "x" placeholder.
func fillPasswd(p directory.Passwd, result *C.struct_passwd, buf *C.char, buflen C.size_t) C.int {
	ptrs, ok := packStrings(buf, buflen, p.Name, "x", p.Gecos, p.Dir, p.Shell)
	if !ok {
		return C.NSS_STATUS_TRYAGAIN
	}
	result.pw_name = ptrs[0]
	result.pw_passwd = ptrs[1]
	result.pw_uid = C.uid_t(p.ID)
	result.pw_gid = C.gid_t(p.ID)
	result.pw_gecos = ptrs[2]
	result.pw_dir = ptrs[3]
	result.pw_shell = ptrs[4]
	return C.NSS_STATUS_SUCCESS
}

func statusToC(s nssclient.Status, errnop *C.int) C.int {
	switch s {
	case nssclient.StatusSuccess:
		return C.NSS_STATUS_SUCCESS
	case nssclient.StatusNotFound:
		return C.NSS_STATUS_NOTFOUND
	default:
		*errnop = C.EIO
		return C.NSS_STATUS_UNAVAIL
	}
}

//export _nss_authd_setpwent
func _nss_authd_setpwent() (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	all, st := cache.AllPasswd()
	if st != nssclient.StatusSuccess {
		return C.NSS_STATUS_UNAVAIL
	}
	passwdIter.Open(all)
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_endpwent
func _nss_authd_endpwent() C.int {
	passwdIter.Close()
	return C.NSS_STATUS_SUCCESS
}

//export _nss_authd_getpwent_r
func _nss_authd_getpwent_r(result *C.struct_passwd, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	p, ok := passwdIter.Next()
	if !ok {
		return C.NSS_STATUS_NOTFOUND
	}
	st := fillPasswd(p, result, buf, buflen)
	if st == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return st
}

//export _nss_authd_getpwuid_r
func _nss_authd_getpwuid_r(uid C.uid_t, result *C.struct_passwd, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	p, st := cache.PasswdByUID(uint32(uid))
	if st != nssclient.StatusSuccess {
		return statusToC(st, errnop)
	}
	out := fillPasswd(*p, result, buf, buflen)
	if out == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return out
}

//export _nss_authd_getpwnam_r
func _nss_authd_getpwnam_r(name *C.char, result *C.struct_passwd, buf *C.char, buflen C.size_t, errnop *C.int) (status C.int) {
	status = C.NSS_STATUS_UNAVAIL
	defer recoverToUnavailC(&status)
	if err := lazyInit(); err != nil {
		return C.NSS_STATUS_UNAVAIL
	}
	goName := C.GoString(name)
	p, st := cache.PasswdByName(goName)
	if st != nssclient.StatusSuccess {
		return statusToC(st, errnop)
	}
	out := fillPasswd(*p, result, buf, buflen)
	if out == C.NSS_STATUS_TRYAGAIN {
		*errnop = C.ERANGE
	}
	return out
}

func recoverToUnavailC(status *C.int) {
	if r := recover(); r != nil {
		log.Printf("nss_authd: recovered panic: %v", r)
		*status = C.NSS_STATUS_UNAVAIL
	}
}
